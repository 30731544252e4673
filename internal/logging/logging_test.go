// Copyright 2021 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

package logging

import (
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/openstack-archive/congress-sub001/logging"
)

func TestGetLevel(t *testing.T) {
	tests := []struct {
		note     string
		input    string
		expected logging.Level
		err      bool
	}{
		{note: "empty", input: "", expected: logging.Info},
		{note: "debug", input: "DEBUG", expected: logging.Debug},
		{note: "warn", input: "warn", expected: logging.Warn},
		{note: "error", input: "error", expected: logging.Error},
		{note: "invalid", input: "loud", err: true},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			level, err := GetLevel(tc.input)
			if tc.err {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if level != tc.expected {
				t.Fatalf("Expected %v but got %v", tc.expected, level)
			}
		})
	}
}

func TestPrettyFormatterBasicFields(t *testing.T) {
	fmtr := GetFormatter("pretty", "")

	e := logrus.WithFields(logrus.Fields{
		"events": 5,
		"policy": "classification",
		"nil":    nil,
		"error":  errors.New("unknown policy"),
	})

	e.Message = "update applied"
	e.Level = logrus.InfoLevel

	out, err := fmtr.Format(e)
	if err != nil {
		t.Fatalf("Unexpected error formatting log entry: %s", err.Error())
	}

	actualStr := string(out)

	for _, exp := range []string{
		"[INFO] classification: update applied\n",
		"events = 5\n",
		"nil = null\n",
		"error = \"unknown policy\"\n",
	} {
		if !strings.Contains(actualStr, exp) {
			t.Errorf("Expected %q in output:\n%s", exp, actualStr)
		}
	}

	if strings.Contains(actualStr, "policy =") {
		t.Errorf("Expected policy only in the header:\n%s", actualStr)
	}

	if strings.Index(actualStr, "error =") > strings.Index(actualStr, "events =") {
		t.Errorf("Expected fields in sorted order:\n%s", actualStr)
	}

	expectedLines := 6 // the header, 3 fields, and two trailing \n
	actualLines := len(strings.Split(actualStr, "\n"))
	if actualLines != expectedLines {
		t.Errorf("Expected %d lines in output, found %d\n Output: \n%s\n", expectedLines, actualLines, actualStr)
	}
}

func TestPrettyFormatterMultilineStringFields(t *testing.T) {
	fmtr := GetFormatter("text", "")

	mlStr := `error(vm) :-
    nova:servers(id=vm, status="ERROR"),
    not exempt(vm)`

	e := logrus.WithFields(logrus.Fields{
		"rule": mlStr,
	})

	e.Message = "rule inserted"
	e.Level = logrus.DebugLevel

	out, err := fmtr.Format(e)
	if err != nil {
		t.Fatalf("Unexpected error formatting log entry: %s", err.Error())
	}

	actualStr := string(out)

	for _, line := range strings.Split(mlStr, "\n") {
		if !strings.Contains(actualStr, line+"\n") {
			t.Errorf("Expected to find line in message:\n\n%s\n\nactual:\n\n%s\n", line, actualStr)
		}
	}
}

func TestJSONFormatter(t *testing.T) {
	if _, ok := GetFormatter("json", "").(*logrus.JSONFormatter); !ok {
		t.Fatal("Expected JSON formatter")
	}
	if f, ok := GetFormatter("json-pretty", "").(*logrus.JSONFormatter); !ok || !f.PrettyPrint {
		t.Fatal("Expected pretty JSON formatter")
	}
}
