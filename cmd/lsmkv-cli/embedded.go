package main

import (
	"context"

	"lsmkv/pkg/rpc"
	"lsmkv/pkg/store"
)

// embedded runs the REPL against a store opened in-process.
type embedded struct {
	db *store.Store
}

func (e embedded) Set(_ context.Context, key, value string) error {
	return e.db.Set(key, value)
}

func (e embedded) Get(_ context.Context, key string) (string, bool, error) {
	return e.db.Get(key)
}

func (e embedded) Rm(_ context.Context, key string) error {
	return e.db.Rm(key)
}

func (e embedded) Stats(context.Context) (rpc.StatsResponse, error) {
	s := e.db.Stats()
	resp := rpc.StatsResponse{
		MemtableEntries: s.MemtableEntries,
		Flushing:        s.Flushing,
		Segments:        s.Segments,
	}
	if s.Broken != nil {
		resp.Broken = s.Broken.Error()
	}
	return resp, nil
}
