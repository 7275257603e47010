package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateCondition(t *testing.T) {
	config := map[string]string{
		"publish":  "true",
		"archive":  "false",
		"width":    "1920",
		"flavor":   "presenter/source",
		"title":    "My Lecture",
		"priority": "3",
	}

	tests := []struct {
		name       string
		expression string
		want       bool
	}{
		{name: "empty is true", expression: "", want: true},
		{name: "blank is true", expression: "   ", want: true},
		{name: "literal true", expression: "true", want: true},
		{name: "literal false", expression: "FALSE", want: false},
		{name: "variable", expression: "${publish}", want: true},
		{name: "missing variable is false", expression: "${unknown}", want: false},
		{name: "numeric compare", expression: "${width} >= 1280", want: true},
		{name: "numeric compare false", expression: "${width} < 1280", want: false},
		{name: "numeric equality ignores format", expression: "${priority} == 3.0", want: true},
		{name: "bool equality ignores case", expression: "${publish} == TRUE", want: true},
		{name: "string equality", expression: "${flavor} == 'presenter/source'", want: true},
		{name: "quoted string with spaces", expression: `${title} != "Other"`, want: true},
		{name: "and", expression: "${publish} AND ${archive}", want: false},
		{name: "or", expression: "${publish} OR ${archive}", want: true},
		{name: "symbolic operators", expression: "${publish} && !${archive}", want: true},
		{name: "not", expression: "NOT ${archive}", want: true},
		{name: "precedence", expression: "${archive} AND ${publish} OR true", want: true},
		{name: "parentheses", expression: "${archive} AND (${publish} OR true)", want: false},
		{name: "nested not", expression: "not not ${publish}", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateCondition(tt.expression, config)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateCondition_Invalid(t *testing.T) {
	for _, expression := range []string{
		"${publish",
		"'unterminated",
		"${a} = 1",
		"(true",
		"true)",
		"true AND",
		"${a} ==",
	} {
		t.Run(expression, func(t *testing.T) {
			_, err := EvaluateCondition(expression, nil)
			require.ErrorIs(t, err, ErrInvalidCondition)
		})
	}
}
