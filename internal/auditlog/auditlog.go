// Package auditlog appends approval decisions and executed actions to daily
// JSONL files. Approval rows in Postgres are the system of record; these
// files are the grep-friendly operator trail.
package auditlog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var mu sync.Mutex

// DecisionEntry records one approval lifecycle transition.
type DecisionEntry struct {
	Time, ApprovalID, Tool, Status, DecidedBy, RequestedBy string
	Arguments                                              map[string]string `json:"arguments,omitempty"`
}

// ExecutionEntry records one brokerage action that actually ran.
type ExecutionEntry struct {
	Time, ApprovalID, Tool, OrderID, Status string
	Extra                                   map[string]any `json:"extra,omitempty"`
}

func logDir() string {
	if v := os.Getenv("GATEWAY_AUDIT_DIR"); v != "" {
		return v
	}
	return "audit"
}

func dailyFilepath(t time.Time, sub string) string {
	d := t.UTC().Format("2006-01-02")
	if sub == "" {
		return filepath.Join(logDir(), d+".txt")
	}
	return filepath.Join(logDir(), sub, d+".txt")
}

func appendLine(p string, v any) error {
	mu.Lock()
	defer mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, _ := json.Marshal(v)
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// AppendDecision writes one approval transition entry.
func AppendDecision(e DecisionEntry) error {
	now := time.Now().UTC()
	e.Time = now.Format("2006-01-02 15:04:05")
	return appendLine(dailyFilepath(now, "decisions"), e)
}

// AppendExecution writes one executed-action entry.
func AppendExecution(e ExecutionEntry) error {
	now := time.Now().UTC()
	e.Time = now.Format("2006-01-02 15:04:05")
	return appendLine(dailyFilepath(now, ""), e)
}

// CompressOlder gzips audit files older than retentionDays. Best effort:
// unreadable files are skipped, not fatal.
func CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	root := logDir()
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(p) != ".txt" {
			return nil
		}
		info, er := os.Stat(p)
		if er != nil {
			return nil
		}
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		if info.ModTime().Before(cutoff) {
			gz := p + ".gz"
			if _, e2 := os.Stat(gz); e2 == nil {
				_ = os.Remove(p)
				return nil
			}

			in, e3 := os.Open(p)
			if e3 != nil {
				return nil
			}
			defer in.Close()

			out, e4 := os.OpenFile(gz, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if e4 != nil {
				return nil
			}
			gw := gzip.NewWriter(out)
			if _, e5 := io.Copy(gw, in); e5 == nil {
				_ = gw.Close()
				_ = out.Close()
				_ = os.Remove(p)
			} else {
				_ = gw.Close()
				_ = out.Close()
			}
		}
		return nil
	})
}
