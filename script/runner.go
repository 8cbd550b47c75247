// script/runner.go
package script

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"slices"
	"strings"

	"github.com/ApocalypseJiaWei/go_dblib/logger"
)

// Execer 执行单条语句, *sql.DB, *sql.Conn, *sql.Tx 和 *pool.Connection 都满足
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// QueryError 脚本中第 Index 条语句 (从 1 开始) 执行失败
type QueryError struct {
	Index int
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("script query %d failed: %v: %s", e.Index, e.Err, e.Query)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

type replacement struct {
	key, value string
}

// Runner 执行 SQL 脚本
type Runner struct {
	src          io.Reader
	db           Execer
	delimiter    rune
	replacements []replacement
	logQueries   bool
	log          logger.Logger
	err          error
}

type Option func(*Runner)

// WithReplacements 执行前把语句中出现的 key 替换为 value, nil 替换为 null
func WithReplacements(replacements map[string]any) Option {
	return func(r *Runner) {
		r.replacements = r.replacements[:0]
		for _, k := range slices.SortedFunc(maps.Keys(replacements), byLengthDesc) {
			if k == "" {
				r.err = errors.Join(r.err, fmt.Errorf("%w: replacement keys must not be empty", ErrInvalidOption))
				continue
			}
			v := "null"
			if val := replacements[k]; val != nil {
				v = fmt.Sprint(val)
			}
			r.replacements = append(r.replacements, replacement{key: k, value: v})
		}
	}
}

func byLengthDesc(a, b string) int {
	if c := cmp.Compare(len(b), len(a)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// WithLogQueries 执行前记录每条语句
func WithLogQueries(enabled bool) Option {
	return func(r *Runner) { r.logQueries = enabled }
}

func WithDelimiter(d rune) Option {
	return func(r *Runner) {
		if err := checkDelimiter(d); err != nil {
			r.err = errors.Join(r.err, err)
			return
		}
		r.delimiter = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(r *Runner) { r.log = l }
}

func NewRunner(src io.Reader, db Execer, opts ...Option) (*Runner, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: reader is required", ErrInvalidOption)
	}
	if db == nil {
		return nil, fmt.Errorf("%w: executor is required", ErrInvalidOption)
	}
	r := &Runner{src: src, db: db, delimiter: DefaultDelimiter}
	for _, opt := range opts {
		opt(r)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r, nil
}

// Run 先读取全部语句再依次执行, 遇到第一个失败的语句即停止
func (r *Runner) Run(ctx context.Context) error {
	reader, err := NewReader(r.src, r.delimiter)
	if err != nil {
		return err
	}
	queries, err := reader.ReadQueries()
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	log := r.log
	if log == nil {
		log = logger.FromContext(ctx)
	}
	for i, q := range queries {
		q = r.preProcess(q)
		if r.logQueries {
			log.Info("Executing script query", "index", i+1, "query", q)
		}
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return &QueryError{Index: i + 1, Query: q, Err: err}
		}
	}
	return nil
}

func (r *Runner) preProcess(q string) string {
	for _, rep := range r.replacements {
		q = strings.ReplaceAll(q, rep.key, rep.value)
	}
	return q
}

// RunFS 执行 fsys 中名为 name 的脚本
func RunFS(ctx context.Context, fsys fs.FS, name string, db Execer, opts ...Option) error {
	f, err := fsys.Open(name)
	if err != nil {
		return fmt.Errorf("open script %s: %w", name, err)
	}
	defer f.Close()
	r, err := NewRunner(f, db, opts...)
	if err != nil {
		return err
	}
	return r.Run(ctx)
}
