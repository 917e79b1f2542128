// gtest runs kjuc over a set of units and compares every emitted view with a golden record
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
)

type Execution struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration,omitempty"`
	TimedOut bool          `json:"timed_out,omitempty"`
}

// TestRun is one kjuc invocation, named after the view it emits
type TestRun struct {
	Name   string    `json:"name"`
	Args   []string  `json:"args,omitempty"`
	Result Execution `json:"result"`
}

type GoldenRecord struct {
	Runs []TestRun `json:"runs"`
}

type FileTestResult struct {
	File    string        `json:"file"`
	Hash    string        `json:"hash,omitempty"`
	Status  string        `json:"status"` // PASS, FAIL, SKIP, ERROR
	Message string        `json:"message,omitempty"`
	Diff    string        `json:"diff,omitempty"`
	Target  *GoldenRecord `json:"target,omitempty"`
}

type TestSuiteResults map[string]*FileTestResult

var (
	compiler       = flag.String("compiler", "./kjuc", "Path to the kjuc binary under test.")
	compilerArgs   = flag.String("compiler-args", "", "Extra arguments for every kjuc run (space-separated).")
	emitKinds      = flag.String("emit", "ir symbols callgraph header layouts", "Views to generate for new golden files (space-separated).")
	generateGolden = flag.String("generate-golden", "", "Generate golden .json files for the given units (space-separated globs).")
	testFiles      = flag.String("test-files", "testdata/*.yaml", "Glob pattern(s) for units to test (space-separated).")
	skipFiles      = flag.String("skip-files", "", "Files to skip (space-separated).")
	outputJSON     = flag.String("output", ".test_results.json", "Output file for the JSON test report.")
	timeout        = flag.Duration("timeout", 5*time.Second, "Timeout for each kjuc run.")
	jobs           = flag.Int("j", 4, "Number of parallel test jobs.")
	verbose        = flag.Bool("v", false, "Enable verbose logging.")
	useCache       = flag.Bool("cached", false, "Skip units whose unit and golden hash match a passing previous run.")
	jsonDir        = flag.String("dir", "", "Directory to store/read golden JSON files (defaults to the unit's dir).")
)

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"
)

func main() {
	flag.Parse()
	log.SetFlags(0)
	setupInterruptHandler()

	if *generateGolden != "" {
		files, err := expandGlobPatterns(*generateGolden)
		if err != nil {
			log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
		}
		for _, f := range files {
			handleGenerateGolden(f)
		}
		return
	}

	handleRunTestSuite()
}

// setupInterruptHandler is used to report a cancelled run on CTRL+C
func setupInterruptHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		fmt.Printf("\n%s[INTERRUPT]%s Test run cancelled.\n", cYellow, cNone)
		os.Exit(1)
	}()
}

func getJSONPath(unit string) string {
	jsonFileName := "." + filepath.Base(unit) + ".json"
	if *jsonDir != "" {
		return filepath.Join(*jsonDir, jsonFileName)
	}
	return filepath.Join(filepath.Dir(unit), jsonFileName)
}

// hashFiles computes one xxhash over the content of every existing path
func hashFiles(paths ...string) (string, error) {
	h := xxhash.New()
	for _, path := range paths {
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%x", h.Sum64()), nil
}

func handleGenerateGolden(unit string) {
	log.Printf("Generating golden file for %s...\n", unit)

	record := &GoldenRecord{}
	for _, kind := range strings.Fields(*emitKinds) {
		record.Runs = append(record.Runs, runCompiler(unit, kind))
	}
	for i := range record.Runs {
		record.Runs[i].Result.Duration = 0
	}

	jsonData, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		log.Fatalf("%s[ERROR]%s Failed to marshal golden data to JSON: %v\n", cRed, cNone, err)
	}

	goldenFileName := getJSONPath(unit)
	if *jsonDir != "" {
		if err := os.MkdirAll(*jsonDir, 0755); err != nil {
			log.Fatalf("%s[ERROR]%s Failed to create directory %s: %v\n", cRed, cNone, *jsonDir, err)
		}
	}
	if err := os.WriteFile(goldenFileName, jsonData, 0644); err != nil {
		log.Fatalf("%s[ERROR]%s Failed to write golden file %s: %v\n", cRed, cNone, goldenFileName, err)
	}
	log.Printf("%s[SUCCESS]%s Golden file created at %s\n", cGreen, cNone, goldenFileName)
}

func handleRunTestSuite() {
	if _, err := exec.LookPath(*compiler); err != nil {
		log.Fatalf("%s[ERROR]%s Compiler '%s' not found: %v\n", cRed, cNone, *compiler, err)
	}

	files, err := expandGlobPatterns(*testFiles)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
	}
	if len(files) == 0 {
		log.Println("No test files found matching the pattern(s).")
		return
	}

	previousResults := make(TestSuiteResults)
	outputFile := *outputJSON
	if *jsonDir != "" {
		outputFile = filepath.Join(*jsonDir, *outputJSON)
	}
	if prevData, err := os.ReadFile(outputFile); err == nil {
		if json.Unmarshal(prevData, &previousResults) != nil {
			log.Printf("%s[WARN]%s Could not parse previous results file %s. Cache will not be used.\n", cYellow, cNone, outputFile)
			previousResults = make(TestSuiteResults)
		}
	}

	skipList := make(map[string]bool)
	for _, f := range strings.Fields(*skipFiles) {
		skipList[f] = true
	}

	tasks := make(chan string, len(files))
	resultsChan := make(chan *FileTestResult, len(files))
	var wg sync.WaitGroup

	for i := 0; i < *jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range tasks {
				resultsChan <- testFile(file, previousResults)
			}
		}()
	}

	for _, file := range files {
		if skipList[file] || skipList[filepath.Base(file)] {
			resultsChan <- &FileTestResult{File: file, Status: "SKIP", Message: "Explicitly skipped"}
			continue
		}
		tasks <- file
	}
	close(tasks)

	wg.Wait()
	close(resultsChan)

	var allResults []*FileTestResult
	for result := range resultsChan {
		allResults = append(allResults, result)
	}
	sort.Slice(allResults, func(i, j int) bool {
		return allResults[i].File < allResults[j].File
	})

	printSummary(allResults)
	resultsMap := writeJSONReport(allResults)

	if hasFailures(resultsMap) {
		os.Exit(1)
	}
}

func testFile(file string, previousResults TestSuiteResults) *FileTestResult {
	goldenFile := getJSONPath(file)
	if _, err := os.Stat(goldenFile); err != nil {
		return &FileTestResult{File: file, Status: "SKIP", Message: "Cannot test without a corresponding .json golden file"}
	}

	fileHash, err := hashFiles(file, goldenFile)
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Failed to hash unit: %v", err)}
	}
	if prev, ok := previousResults[file]; *useCache && ok && prev.Hash == fileHash && prev.Status == "PASS" {
		return &FileTestResult{File: file, Hash: fileHash, Status: "PASS", Message: "Unchanged since last passing run (cached)", Target: prev.Target}
	}

	goldenData, err := os.ReadFile(goldenFile)
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not read golden file %s: %v", goldenFile, err)}
	}
	var golden GoldenRecord
	if err := json.Unmarshal(goldenData, &golden); err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not parse golden file %s: %v", goldenFile, err)}
	}

	target := &GoldenRecord{}
	for _, run := range golden.Runs {
		target.Runs = append(target.Runs, runCompiler(file, run.Name))
	}

	result := compareRuns(file, &golden, target)
	result.Hash = fileHash
	return result
}

func compareRuns(file string, golden, target *GoldenRecord) *FileTestResult {
	var diffs strings.Builder
	var failed bool

	targetRuns := make(map[string]TestRun)
	for _, run := range target.Runs {
		targetRuns[run.Name] = run
	}

	for _, want := range golden.Runs {
		got, ok := targetRuns[want.Name]
		if !ok {
			failed = true
			diffs.WriteString(fmt.Sprintf("Run '%s' missing in target results.\n", want.Name))
			continue
		}
		if got.Result.TimedOut {
			failed = true
			diffs.WriteString(fmt.Sprintf("Run '%s' timed out after %s.\n", want.Name, *timeout))
			continue
		}
		if want.Result.ExitCode != got.Result.ExitCode {
			failed = true
			diffs.WriteString(fmt.Sprintf("Run '%s' exit code mismatch: want %d, got %d\n", want.Name, want.Result.ExitCode, got.Result.ExitCode))
		}
		if d := cmp.Diff(want.Result.Stdout, got.Result.Stdout); d != "" {
			failed = true
			diffs.WriteString(fmt.Sprintf("Run '%s' STDOUT mismatch:\n%s", want.Name, d))
		}
		if d := cmp.Diff(want.Result.Stderr, got.Result.Stderr); d != "" {
			failed = true
			diffs.WriteString(fmt.Sprintf("Run '%s' STDERR mismatch:\n%s", want.Name, d))
		}
	}

	if failed {
		return &FileTestResult{File: file, Status: "FAIL", Message: "Output mismatch", Diff: diffs.String(), Target: target}
	}
	return &FileTestResult{File: file, Status: "PASS", Message: fmt.Sprintf("%d view(s) match", len(golden.Runs)), Target: target}
}

// runCompiler emits one view of unit. kjuc runs in the unit's directory so that
// diagnostics carry the bare file name
func runCompiler(unit, kind string) TestRun {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	args := []string{"--labels", "counter", "--emit", kind}
	args = append(args, strings.Fields(*compilerArgs)...)
	args = append(args, filepath.Base(unit))

	compilerPath := *compiler
	if strings.ContainsRune(compilerPath, filepath.Separator) {
		if abs, err := filepath.Abs(compilerPath); err == nil {
			compilerPath = abs
		}
	}
	if *verbose {
		log.Printf("[%s] %s %s", filepath.Base(unit), compilerPath, strings.Join(args, " "))
	}
	return TestRun{Name: kind, Args: args, Result: executeCommand(ctx, filepath.Dir(unit), compilerPath, args...)}
}

// executeCommand runs a command with a timeout in dir and captures its output
func executeCommand(ctx context.Context, dir, command string, args ...string) Execution {
	startTime := time.Now()
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	execResult := Execution{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(startTime),
	}

	if ctx.Err() == context.DeadlineExceeded {
		execResult.TimedOut = true
		execResult.ExitCode = -1
	} else if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			execResult.ExitCode = exitErr.ExitCode()
		} else {
			execResult.ExitCode = -2
			execResult.Stderr += "\nExecution error: " + err.Error()
		}
	}
	return execResult
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%6dµs", d.Microseconds())
	}
	return fmt.Sprintf("%6dms", d.Milliseconds())
}

func printSummary(results []*FileTestResult) {
	var passed, failed, skipped, errored int
	var total time.Duration

	for _, result := range results {
		fmt.Println("----------------------------------------------------------------------")
		fmt.Printf("Testing %s%s%s...\n", cCyan, result.File, cNone)

		switch result.Status {
		case "PASS":
			passed++
			fmt.Printf("  [%sPASS%s] %s\n", cGreen, cNone, result.Message)
		case "FAIL":
			failed++
			fmt.Printf("  [%sFAIL%s] %s\n", cRed, cNone, result.Message)
			fmt.Println(formatDiff(result.Diff))
		case "SKIP":
			skipped++
			fmt.Printf("  [%sSKIP%s] %s\n", cYellow, cNone, result.Message)
		case "ERROR":
			errored++
			fmt.Printf("  [%sERROR%s] %s\n", cRed, cNone, result.Message)
		}

		if result.Target == nil {
			continue
		}
		for _, run := range result.Target.Runs {
			total += run.Result.Duration
			if *verbose {
				fmt.Printf("    %-10s %s\n", run.Name, formatDuration(run.Result.Duration))
			}
		}
	}

	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%sTest Summary:%s %s%d Passed%s, %s%d Failed%s, %s%d Skipped%s, %s%d Errored%s, %d Total\n",
		cBold, cNone, cGreen, passed, cNone, cRed, failed, cNone, cYellow, skipped, cNone, cRed, errored, cNone, len(results))
	if total > 0 {
		fmt.Printf("Time spent in %s: %s\n", filepath.Base(*compiler), total)
	}
}

func formatDiff(diff string) string {
	if diff == "" {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("    --- Diff ---\n")
	for _, line := range strings.Split(diff, "\n") {
		trimmedLine := strings.TrimSpace(line)
		if strings.HasPrefix(trimmedLine, "-") {
			builder.WriteString(cRed)
		} else if strings.HasPrefix(trimmedLine, "+") {
			builder.WriteString(cGreen)
		}
		builder.WriteString("    " + line)
		builder.WriteString(cNone)
		builder.WriteString("\n")
	}
	return builder.String()
}

func writeJSONReport(results []*FileTestResult) TestSuiteResults {
	resultsMap := make(TestSuiteResults, len(results))
	for _, r := range results {
		resultsMap[r.File] = r
	}

	jsonData, err := json.MarshalIndent(resultsMap, "", "  ")
	if err != nil {
		log.Printf("%s[ERROR]%s Failed to marshal results to JSON: %v\n", cRed, cNone, err)
		return resultsMap
	}

	outputFile := *outputJSON
	if *jsonDir != "" {
		if err := os.MkdirAll(*jsonDir, 0755); err != nil {
			log.Printf("%s[ERROR]%s Failed to create dir %s: %v\n", cRed, cNone, *jsonDir, err)
		}
		outputFile = filepath.Join(*jsonDir, *outputJSON)
	}

	if err := os.WriteFile(outputFile, jsonData, 0644); err != nil {
		log.Printf("%s[ERROR]%s Failed to write JSON report to %s: %v\n", cRed, cNone, outputFile, err)
	} else {
		fmt.Printf("Full test report saved to %s\n", outputFile)
	}
	return resultsMap
}

func hasFailures(results TestSuiteResults) bool {
	for _, result := range results {
		if result.Status == "FAIL" || result.Status == "ERROR" {
			return true
		}
	}
	return false
}

func expandGlobPatterns(patterns string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]bool)
	for _, pattern := range strings.Fields(patterns) {
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", pattern, err)
		}
		for _, file := range files {
			absFile, err := filepath.Abs(file)
			if err != nil {
				continue
			}
			if !seen[absFile] {
				if info, err := os.Stat(absFile); err == nil && info.Mode().IsRegular() {
					allFiles = append(allFiles, absFile)
					seen[absFile] = true
				}
			}
		}
	}
	return allFiles, nil
}
