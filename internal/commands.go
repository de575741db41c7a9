package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/starford/fraudlink/internal/graph"
	"github.com/starford/fraudlink/internal/mcpserver"
	"github.com/starford/fraudlink/internal/models"
	"github.com/starford/fraudlink/internal/queue"
)

// LinkFile processes the transaction stored at path and prints the result.
// With enqueue set, the transaction is dropped into the spool inbox instead
// and the envelope name is printed.
func LinkFile(ctx context.Context, path string, enqueue bool, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	tx, err := ReadTransactionFile(path)
	if err != nil {
		return err
	}

	if enqueue {
		if app.config.Worker.SpoolDir == "" {
			return fmt.Errorf("worker.spool_dir is not configured")
		}
		spool, err := queue.NewSpool(app.config.Worker.SpoolDir)
		if err != nil {
			return err
		}
		name, err := spool.Enqueue(tx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(app.out, name)
		return err
	}

	eng, err := openEngine(app.config, newLogger(app.config, os.Stderr))
	if err != nil {
		return err
	}
	defer eng.Close()

	res, err := eng.pipeline().Process(ctx, tx)
	if err != nil {
		return err
	}
	return printJSON(app, res)
}

// Connections prints the transitive connections of txID, or its direct
// connections when direct is set.
func Connections(ctx context.Context, txID string, q graph.Options, direct bool, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	eng, err := openEngine(app.config, newLogger(app.config, os.Stderr))
	if err != nil {
		return err
	}
	defer eng.Close()

	if direct {
		conns, err := eng.linker.DirectConnections(ctx, txID)
		if err != nil {
			return err
		}
		return printJSON(app, conns)
	}
	conns, err := eng.linker.ConnectedTransactions(ctx, txID, q)
	if err != nil {
		return err
	}
	return printJSON(app, conns)
}

// ServeMCP runs the MCP server on stdin/stdout. Logs go to stderr so they
// never interleave with protocol frames.
func ServeMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	eng, err := openEngine(app.config, newLogger(app.config, os.Stderr))
	if err != nil {
		return err
	}
	defer eng.Close()

	return mcpserver.New(eng.linker, eng.pipeline(), app.version).ServeStdio()
}

// ReadTransactionFile reads a transaction from path. A file holding a
// {"id", "payload"} envelope is used as is; any other JSON document is taken
// as the payload. A missing id falls back to the file stem.
func ReadTransactionFile(path string) (models.Transaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("read %s: %w", path, err)
	}
	if !gjson.ValidBytes(data) {
		return models.Transaction{}, fmt.Errorf("read %s: not valid JSON", path)
	}

	var tx models.Transaction
	if gjson.GetBytes(data, "payload").Exists() {
		if err := json.Unmarshal(data, &tx); err != nil {
			return models.Transaction{}, fmt.Errorf("decode %s: %w", path, err)
		}
	} else {
		tx.Payload = json.RawMessage(data)
	}
	if tx.ID == "" {
		base := filepath.Base(path)
		tx.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return tx, nil
}

func printJSON(app *application, v any) error {
	enc := json.NewEncoder(app.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
