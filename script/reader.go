// script/reader.go
package script

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultDelimiter 默认语句分隔符
const DefaultDelimiter = ';'

var ErrInvalidOption = errors.New("invalid script option")

// Reader 从 SQL 脚本中逐条读取语句
//
// 引号内的分隔符不拆分, 反斜杠转义引号; 引号外的换行替换为空格。
type Reader struct {
	r         *bufio.Reader
	delimiter rune
}

func NewReader(r io.Reader, delimiter rune) (*Reader, error) {
	if err := checkDelimiter(delimiter); err != nil {
		return nil, err
	}
	return &Reader{r: bufio.NewReader(r), delimiter: delimiter}, nil
}

func checkDelimiter(d rune) error {
	switch d {
	case '"', '\'', '\\', 0:
		return fmt.Errorf("%w: delimiter %q is not allowed", ErrInvalidOption, d)
	}
	return nil
}

// Next 返回下一条非空语句, 读完时返回 io.EOF
func (qr *Reader) Next() (string, error) {
	for {
		query, err := qr.readQuery()
		if q := strings.TrimSpace(query); q != "" {
			return q, nil
		}
		if err != nil {
			return "", err
		}
	}
}

// ReadQueries 读取全部语句
func (qr *Reader) ReadQueries() ([]string, error) {
	var queries []string
	for {
		q, err := qr.Next()
		if errors.Is(err, io.EOF) {
			return queries, nil
		}
		if err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}
}

// readQuery 读到分隔符或输入结束, 输入结束时同时返回 io.EOF
func (qr *Reader) readQuery() (string, error) {
	var b strings.Builder
	for {
		c, _, err := qr.r.ReadRune()
		if err != nil {
			return b.String(), err
		}
		switch {
		case c == '"' || c == '\'':
			if err := qr.readToClosingQuote(&b, c); err != nil {
				return b.String(), err
			}
		case c == qr.delimiter:
			return b.String(), nil
		case c == '\n' || c == '\r':
			b.WriteByte(' ')
		default:
			b.WriteRune(c)
		}
	}
}

func (qr *Reader) readToClosingQuote(b *strings.Builder, quote rune) error {
	b.WriteRune(quote)
	escaped := false
	for {
		c, _, err := qr.r.ReadRune()
		if err != nil {
			return err
		}
		if c == quote && !escaped {
			b.WriteRune(quote)
			return nil
		}
		escaped = c == '\\' && !escaped
		b.WriteRune(c)
	}
}
