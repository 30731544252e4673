// Copyright 2021 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/openstack-archive/congress-sub001/logging"
)

// GetLevel parses a level name. The empty string means info.
func GetLevel(level string) (logging.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logging.Debug, nil
	case "", "info":
		return logging.Info, nil
	case "warn":
		return logging.Warn, nil
	case "error":
		return logging.Error, nil
	default:
		return logging.Debug, fmt.Errorf("invalid log level: %v", level)
	}
}

// GetFormatter returns the logrus formatter for a format name: "text" (or
// "pretty") for human readable output, "json-pretty" and the default "json".
func GetFormatter(format, timestampFormat string) logrus.Formatter {
	switch format {
	case "text", "pretty":
		return &prettyFormatter{}
	case "json-pretty":
		return &logrus.JSONFormatter{PrettyPrint: true, TimestampFormat: timestampFormat}
	default:
		return &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	}
}

// prettyFormatter renders entries for a terminal. The policy field, when
// present, is moved into the header line.
type prettyFormatter struct{}

const (
	fieldIndent     = 2
	multiLineIndent = 6
)

func (p *prettyFormatter) Format(e *logrus.Entry) ([]byte, error) {
	b := new(bytes.Buffer)

	level := strings.ToUpper(e.Level.String())
	if policy, ok := e.Data["policy"].(string); ok {
		fmt.Fprintf(b, "[%s] %s: %s\n", level, policy, e.Message)
	} else {
		fmt.Fprintf(b, "[%s] %s\n", level, e.Message)
	}

	keys := make([]string, 0, len(e.Data))
	for k, v := range e.Data {
		if _, ok := v.(string); ok && k == "policy" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	indent := strings.Repeat(" ", multiLineIndent)
	for _, k := range keys {
		s, err := formatValue(e.Data[k], indent)
		if err != nil {
			return nil, err
		}
		b.WriteString(strings.Repeat(" ", fieldIndent))
		b.WriteString(k)
		if strings.Contains(s, "\n") {
			b.WriteString(" = |\n")
			b.WriteString(indent)
		} else {
			b.WriteString(" = ")
		}
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// formatValue renders a field value. Multi-line strings such as rule dumps
// are indented as-is, JSON strings are re-indented, and everything else is
// marshalled.
func formatValue(v interface{}, indent string) (string, error) {
	switch v := v.(type) {
	case string:
		if strings.Contains(v, "\n") {
			lines := strings.Split(v, "\n")
			return strings.Join(lines, "\n"+indent) + "\n", nil
		}
		var tmp interface{}
		if json.Unmarshal([]byte(v), &tmp) == nil {
			var buf bytes.Buffer
			if err := json.Indent(&buf, []byte(v), indent, "  "); err != nil {
				return "", err
			}
			return buf.String(), nil
		}
	case error:
		return formatValue(v.Error(), indent)
	case fmt.Stringer:
		return formatValue(v.String(), indent)
	}
	bs, err := json.MarshalIndent(v, indent, "  ")
	if err != nil {
		return "", err
	}
	return string(bs), nil
}
