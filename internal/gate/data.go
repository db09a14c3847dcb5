package gate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"
)

func checkYAML(p, src string) string {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(src)))
	for {
		var v any
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return ""
		}
		if err != nil {
			return fmt.Sprintf("%s: %v", p, err)
		}
	}
}

func checkJSON(p, src string) string {
	var v any
	err := json.Unmarshal([]byte(src), &v)
	if err == nil {
		return ""
	}
	var se *json.SyntaxError
	if errors.As(err, &se) {
		line, col := lineCol(src, int(se.Offset))
		return fmt.Sprintf("%s:%d:%d: %v", p, line, col, err)
	}
	return fmt.Sprintf("%s: %v", p, err)
}

func checkGoMod(p, src string) string {
	if _, err := modfile.Parse(p, []byte(src), nil); err != nil {
		return err.Error()
	}
	return ""
}

func lineCol(src string, offset int) (int, int) {
	if offset > len(src) {
		offset = len(src)
	}
	line, col := 1, 1
	for _, c := range src[:offset] {
		if c == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
