package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"lsmkv/pkg/rpc"
)

type kv interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Rm(ctx context.Context, key string) error
	Stats(ctx context.Context) (rpc.StatsResponse, error)
}

const prompt = "lsmkv> "

// repl reads one command per line until exit or EOF. Command failures are
// printed and the loop goes on; only I/O errors end it.
func repl(ctx context.Context, in io.Reader, out io.Writer, db kv) error {
	scanner := bufio.NewScanner(in)

	fmt.Fprint(out, prompt)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			fmt.Fprint(out, prompt)
			continue
		}

		if strings.ToLower(parts[0]) == "exit" {
			fmt.Fprintln(out, "bye")
			return nil
		}

		if err := execute(ctx, out, db, parts); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		fmt.Fprint(out, prompt)
	}
	return scanner.Err()
}

func execute(ctx context.Context, out io.Writer, db kv, parts []string) error {
	switch strings.ToLower(parts[0]) {
	case "set":
		if len(parts) != 3 {
			return fmt.Errorf("usage: set <key> <value>")
		}
		if err := db.Set(ctx, parts[1], parts[2]); err != nil {
			return err
		}
		fmt.Fprintln(out, "OK")
	case "get":
		if len(parts) != 2 {
			return fmt.Errorf("usage: get <key>")
		}
		value, found, err := db.Get(ctx, parts[1])
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintln(out, "(nil)")
			return nil
		}
		fmt.Fprintln(out, value)
	case "rm":
		if len(parts) != 2 {
			return fmt.Errorf("usage: rm <key>")
		}
		if err := db.Rm(ctx, parts[1]); err != nil {
			return err
		}
		fmt.Fprintln(out, "OK")
	case "stats":
		stats, err := db.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "memtable_entries=%d flushing=%v segments=%d\n",
			stats.MemtableEntries, stats.Flushing, len(stats.Segments))
		for _, seg := range stats.Segments {
			fmt.Fprintf(out, "  %s\n", seg)
		}
		if stats.Broken != "" {
			fmt.Fprintf(out, "broken: %s\n", stats.Broken)
		}
	default:
		return fmt.Errorf("unknown command %q, expected set/get/rm/stats/exit", parts[0])
	}
	return nil
}
