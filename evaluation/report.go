package evaluation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/mrs-eval/images"
	"github.com/nvr-ai/mrs-eval/util"
)

// OverallName is the report row aggregating every tile.
const OverallName = "Overall"

// ReportFile is the report written under the report directory.
const ReportFile = "result.txt"

// DefaultDelta keeps IoU finite when a class is absent from both maps.
const DefaultDelta = 1e-6

// ResultStrings formats one tile's score for the log and for the report.
//
// The log string is "<name>: IoU=<mean>" followed by one "<class>: IoU=<v>"
// per class. The report line is "<name>,<sum A>,<sum B>", then one "<A>,<B>"
// pair per class when there is more than one class name, then the mean IoU.
func ResultStrings(name string, score IoUScore, classNames []string, delta float64) (string, string) {
	var p strings.Builder
	fmt.Fprintf(&p, "%s: IoU=%05.2f\n\t", name, score.Mean(delta))
	for i := range score.A {
		fmt.Fprintf(&p, " %s: IoU=%05.2f", className(classNames, i), score.Class(i, delta))
	}

	r := []string{name, formatFloat(score.SumA()), formatFloat(score.SumB())}
	if len(classNames) > 1 {
		for i := range score.A {
			r = append(r, formatFloat(score.A[i]), formatFloat(score.B[i]))
		}
	}
	r = append(r, formatFloat(score.Mean(delta)))
	return p.String(), strings.Join(r, ",")
}

func className(names []string, i int) string {
	if i < len(names) {
		return names[i]
	}
	return fmt.Sprintf("class_%d", i)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteReport writes report lines to dir/result.txt.
func WriteReport(dir string, lines []string) error {
	return util.WriteLines(filepath.Join(dir, ReportFile), lines)
}

// ClassResult is one class's intersection and union in a report row.
type ClassResult struct {
	Name string
	A    float64
	B    float64
}

// Result is one parsed report row.
type Result struct {
	Name    string
	IoUA    float64
	IoUB    float64
	IoU     float64
	Classes []ClassResult
}

// Summary is an IoU recomputed from summed report rows.
type Summary struct {
	IoU     float64
	Classes map[string]float64
}

// ReadResults parses a report file. Blank lines are skipped.
//
// Arguments:
//   - path: The report file.
//   - classNames: Names for the per-class columns; nil names them class_<i>.
//
// Returns:
//   - []Result: Rows in file order.
//   - error: images.ErrInvalidInput for a malformed row, or the read error.
func ReadResults(path string, classNames []string) ([]Result, error) {
	lines, err := util.ReadLines(path)
	if err != nil {
		return nil, err
	}
	var out []Result
	for n, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) <= 1 {
			continue
		}
		res, err := parseResult(line, classNames)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", path, n+1)
		}
		out = append(out, res)
	}
	return out, nil
}

func parseResult(line string, classNames []string) (Result, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 4 || (len(fields)-4)%2 != 0 {
		return Result{}, errors.Wrapf(images.ErrInvalidInput, "malformed result row %q", line)
	}
	nums := make([]float64, len(fields)-1)
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Result{}, errors.Wrapf(images.ErrInvalidInput, "bad number %q in %q", f, line)
		}
		nums[i] = v
	}
	classes := nums[2 : len(nums)-1]
	if classNames != nil && len(classes) != 2*len(classNames) {
		return Result{}, errors.Wrapf(images.ErrInvalidInput, "row %q has %d class columns for %d classes",
			fields[0], len(classes), len(classNames))
	}
	res := Result{Name: fields[0], IoUA: nums[0], IoUB: nums[1], IoU: nums[len(nums)-1]}
	for i := 0; i < len(classes)/2; i++ {
		res.Classes = append(res.Classes, ClassResult{Name: className(classNames, i), A: classes[2*i], B: classes[2*i+1]})
	}
	return res, nil
}

// SummarizeResults sums every row whose name matches pattern and recomputes
// the IoU of the combined counts.
func SummarizeResults(results []Result, pattern string, delta float64) (Summary, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Summary{}, errors.Wrapf(images.ErrInvalidConfig, "bad pattern %q: %v", pattern, err)
	}
	var matched []Result
	for _, r := range results {
		if re.MatchString(r.Name) {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return Summary{}, errors.Wrapf(images.ErrInvalidInput, "no result rows match %q", pattern)
	}
	return summarize(matched, delta), nil
}

// OverallResult recomputes the IoU of the Overall row.
func OverallResult(results []Result, delta float64) (Summary, error) {
	for _, r := range results {
		if r.Name == OverallName {
			return summarize([]Result{r}, delta), nil
		}
	}
	return Summary{}, errors.Wrapf(images.ErrInvalidInput, "no %s row", OverallName)
}

func summarize(rows []Result, delta float64) Summary {
	var a, b float64
	classA := map[string]float64{}
	classB := map[string]float64{}
	for _, r := range rows {
		a += r.IoUA
		b += r.IoUB
		for _, c := range r.Classes {
			classA[c.Name] += c.A
			classB[c.Name] += c.B
		}
	}
	s := Summary{IoU: a / (b + delta) * 100, Classes: make(map[string]float64, len(classA))}
	for name, ca := range classA {
		s.Classes[name] = ca / (classB[name] + delta) * 100
	}
	return s
}
