package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"cfdb/internal/config"
	cfhttp "cfdb/internal/http"
	"cfdb/pkg/db"
	"cfdb/pkg/dberrors"
	"cfdb/pkg/merge"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := initConfig(*cfgPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogger(&cfg)

	engine, handles, err := openEngine(cfg.DB)
	if err != nil {
		slog.Error("Failed to open database", "path", cfg.DB.Path, "error", err)
		os.Exit(1)
	}

	server := cfhttp.NewServer(engine, handles, db.ColumnFamilyOptions{}, strconv.Itoa(cfg.Server.Port))
	if err := server.Start(); err != nil {
		slog.Error("Failed to start server", "error", err)
		_ = engine.Close()
		os.Exit(1)
	}

	<-ctx.Done()

	if err := server.Stop(); err != nil {
		slog.Error("Error stopping server", "error", err)
	}
	if err := engine.Close(); err != nil {
		slog.Error("Error closing database", "error", err)
	}
	slog.Info("cfdb stopped")
}

// openEngine opens the database with every column family it already
// contains, then creates the configured families that do not exist yet.
func openEngine(cfg config.DBConfig) (*db.DB, map[string]*db.ColumnFamilyHandle, error) {
	byName := make(map[string]config.FamilyConfig, len(cfg.ColumnFamilies))
	for _, fc := range cfg.ColumnFamilies {
		byName[fc.Name] = fc
	}

	names, err := db.ListColumnFamilies(cfg.Path)
	if err != nil {
		if !errors.Is(err, dberrors.ErrNotFound) {
			return nil, nil, err
		}
		names = []string{"default"}
	}

	descriptors := make([]db.ColumnFamilyDescriptor, 0, len(names))
	for _, name := range names {
		descriptors = append(descriptors, db.ColumnFamilyDescriptor{
			Name:    name,
			Options: familyOptions(byName[name]),
		})
	}

	opts := db.Options{
		WALDir:             cfg.WALDir,
		SegmentSizeBytes:   cfg.SegmentSizeBytes,
		MemtableFlushBytes: cfg.MemtableFlushBytes,
	}
	engine, hs, err := db.Open(opts, cfg.Path, descriptors)
	if err != nil {
		return nil, nil, err
	}

	handles := make(map[string]*db.ColumnFamilyHandle, len(hs))
	for i, h := range hs {
		handles[descriptors[i].Name] = h
	}

	for _, fc := range cfg.ColumnFamilies {
		if _, ok := handles[fc.Name]; ok {
			continue
		}
		h, err := engine.CreateColumnFamily(familyOptions(fc), fc.Name)
		if err != nil {
			_ = engine.Close()
			return nil, nil, fmt.Errorf("create column family %q: %w", fc.Name, err)
		}
		handles[fc.Name] = h
	}

	return engine, handles, nil
}

func familyOptions(fc config.FamilyConfig) db.ColumnFamilyOptions {
	var op merge.Operator
	switch fc.MergeOperator {
	case "uint64add":
		op = merge.UInt64Add{}
	case "append":
		op = merge.Append{Delim: []byte(fc.AppendDelimiter)}
	}
	return db.ColumnFamilyOptions{MergeOperator: op}
}
