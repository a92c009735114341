package check

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/clos-tools/fabcheck/pkg/cli"
)

// Exit codes derived from the worst verdict present. Exit 2 means the
// verifier could not even observe the fabric; exit 1 means the fabric
// was observed and is unhealthy.
const (
	ExitPass  = 0
	ExitFail  = 1
	ExitError = 2
)

// ExitCode maps the report's overall verdict to a process exit code.
func (r *Report) ExitCode() int {
	switch r.Overall {
	case VerdictError:
		return ExitError
	case VerdictFail:
		return ExitFail
	default:
		return ExitPass
	}
}

// Counts tallies results per verdict.
func (r *Report) Counts() (pass, fail, errs int) {
	for _, res := range r.Results {
		switch res.Verdict {
		case VerdictPass:
			pass++
		case VerdictFail:
			fail++
		case VerdictError:
			errs++
		}
	}
	return
}

var kindHeadings = []struct {
	kind    string
	heading string
}{
	{KindPeering, "BGP peering sessions"},
	{KindRoute, "ECMP routes"},
	{KindReachability, "Reachability"},
}

// PrintConsole renders the report grouped by check kind. Every declared
// check appears with its verdict and evidence, regardless of earlier
// failures.
func (r *Report) PrintConsole(w io.Writer) {
	width := 0
	for _, res := range r.Results {
		if len(res.Subject) > width {
			width = len(res.Subject)
		}
	}
	width += 6

	for _, kh := range kindHeadings {
		first := true
		for _, res := range r.Results {
			if res.Kind != kh.kind {
				continue
			}
			if first {
				fmt.Fprintf(w, "%s\n", cli.Bold(kh.heading))
				first = false
			}
			line := fmt.Sprintf("  %s %s  %s", cli.DotPad(res.Subject, width), colorVerdict(res.Verdict), res.Evidence)
			if res.Detail != "" && res.Verdict != VerdictPass {
				line += cli.Dim(" (" + res.Detail + ")")
			}
			fmt.Fprintln(w, line)
		}
		if !first {
			fmt.Fprintln(w)
		}
	}

	pass, fail, errs := r.Counts()
	fmt.Fprintf(w, "Overall: %s (%d checks: %d pass, %d fail, %d error)\n",
		colorVerdict(r.Overall), len(r.Results), pass, fail, errs)
}

func colorVerdict(v Verdict) string {
	switch v {
	case VerdictPass:
		return cli.Green(string(v))
	case VerdictFail:
		return cli.Red(string(v))
	default:
		return cli.Yellow(string(v))
	}
}

// DateTimeFormat is the timestamp layout used in written reports.
const DateTimeFormat = "2006-01-02 15:04:05"

// WriteMarkdown writes a markdown report to the given path.
func (r *Report) WriteMarkdown(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "# fabcheck report %s\n\n", r.Timestamp.Format(DateTimeFormat))
	fmt.Fprintf(f, "Overall: **%s** in %s\n\n", r.Overall, r.Duration.Round(time.Millisecond))

	fmt.Fprintln(f, "| Kind | Subject | Verdict | Evidence | Detail |")
	fmt.Fprintln(f, "|------|---------|---------|----------|--------|")
	for _, res := range r.Results {
		fmt.Fprintf(f, "| %s | %s | %s | %s | %s |\n",
			res.Kind, res.Subject, res.Verdict, res.Evidence, res.Detail)
	}

	return nil
}

// WriteJUnit writes a JUnit XML report for CI integration: one suite
// per check kind, failures and errors kept distinct.
func (r *Report) WriteJUnit(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	suites := junitTestSuites{}
	for _, kh := range kindHeadings {
		suite := junitTestSuite{Name: kh.kind}
		for _, res := range r.Results {
			if res.Kind != kh.kind {
				continue
			}
			suite.Tests++
			suite.Time += res.Duration.Seconds()
			tc := junitTestCase{
				Name:      res.Subject,
				ClassName: res.Kind,
				Time:      res.Duration.Seconds(),
			}
			switch res.Verdict {
			case VerdictFail:
				suite.Failures++
				tc.Failure = &junitFailure{Message: res.Evidence, Type: res.Kind}
			case VerdictError:
				suite.Errors++
				tc.Error = &junitError{Message: res.Evidence, Type: res.Kind}
			}
			suite.Cases = append(suite.Cases, tc)
		}
		if suite.Tests > 0 {
			suites.Suites = append(suites.Suites, suite)
		}
	}

	data, err := xml.MarshalIndent(suites, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(xml.Header), data...), 0o644)
}

// JUnit XML types

type junitTestSuites struct {
	XMLName xml.Name         `xml:"testsuites"`
	Suites  []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Errors   int             `xml:"errors,attr"`
	Time     float64         `xml:"time,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Error     *junitError   `xml:"error,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
}

type junitError struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
}
