package detector

import "strings"

// FailureCategory classifies a failed pipeline by its log contents
type FailureCategory string

const (
	CategoryDependency FailureCategory = "dependency-resolution"
	CategoryBuild      FailureCategory = "build"
	CategoryTest       FailureCategory = "test"
	CategoryNetwork    FailureCategory = "network"
	CategoryUnknown    FailureCategory = "unknown"
)

// networkPhrases are checked first: a flaky network must never be
// mis-classified as a code defect.
var networkPhrases = []string{
	"connection refused",
	"connection reset",
	"connection timed out",
	"could not resolve host",
	"no such host",
	"network is unreachable",
	"temporary failure in name resolution",
	"tls handshake",
	"i/o timeout",
}

var dependencyPhrases = []string{
	"could not resolve dependencies",
	"unable to resolve dependency",
	"could not find artifact",
	"no matching distribution found",
	"module not found",
	"missing go.sum entry",
	"failed to fetch",
	"dependency resolution",
}

var buildPhrases = []string{
	"compilation failed",
	"build failed",
	"syntax error",
	"undefined reference",
	"cannot find symbol",
	"does not compile",
	"undefined:",
}

var testPhrases = []string{
	"tests failed",
	"test failed",
	"assertion failed",
	"--- fail",
	"failures:",
	"expected",
}

// ClassifyFailure maps a failure log excerpt to a category by phrase
// matching, most specific first
func ClassifyFailure(logExcerpt string) FailureCategory {
	lower := strings.ToLower(logExcerpt)

	for _, p := range networkPhrases {
		if strings.Contains(lower, p) {
			return CategoryNetwork
		}
	}
	for _, p := range dependencyPhrases {
		if strings.Contains(lower, p) {
			return CategoryDependency
		}
	}
	for _, p := range buildPhrases {
		if strings.Contains(lower, p) {
			return CategoryBuild
		}
	}
	for _, p := range testPhrases {
		if strings.Contains(lower, p) {
			return CategoryTest
		}
	}
	return CategoryUnknown
}

// Retryable reports whether a pipeline failure of this category is worth
// retrying at the pipeline layer. Only network failures qualify; the
// issue-level retry policy may still retry the whole phase for the rest.
func (c FailureCategory) Retryable() bool {
	return c == CategoryNetwork
}
