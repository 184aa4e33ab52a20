package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

// echotest is a workload for exercising the dashboard by hand: it prints a
// rotating mix of info, warning and error lines and exits with the requested
// code once its run duration is over.
type flagOptions struct {
	RunDuration int           `long:"run-duration" description:"Duration in seconds to run before exiting (0 runs until signalled)"`
	ExitCode    int           `long:"exit-code" description:"Exit code to use when the run duration elapses"`
	Interval    time.Duration `long:"interval" description:"Delay between output lines" default:"1s"`
	MemoryMB    int           `long:"memory-mb" description:"Memory in Megabytes to allocate (debug feature)"`
	Stderr      bool          `long:"stderr" description:"Write warnings and errors to stderr"`
}

var lines = []string{
	"GET /health 200",
	"processed job id=%d",
	"WARN slow response from upstream (%dms)",
	"GET /api/items 200",
	"ERROR connection reset by peer (attempt %d)",
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running Echotest, opts: %+v...\n", opts)

	ctx := context.Background()
	if opts.RunDuration > 0 {
		fmt.Printf("Using RUN DURATION of %d seconds\n", opts.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	var s []byte
	if opts.MemoryMB > 0 {
		fmt.Printf("Using MEMORY MB of %d Megabytes\n", opts.MemoryMB)
		s = make([]byte, opts.MemoryMB*1024*1024)
	}
	for i := 0; i < len(s); i++ {
		s[i] = 1
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fmt.Printf("Echotest is fully operational\n")

	for n := 0; ; n++ {
		select {
		case receivedSignal := <-sig:
			fmt.Printf("Echotest received signal: %v\n", receivedSignal)
			fmt.Printf("Echotest stopped\n")
			return
		case <-ctx.Done():
			fmt.Printf("Echotest finished, exit code: %d\n", opts.ExitCode)
			os.Exit(opts.ExitCode)
		case <-ticker.C:
			emit(n, opts.Stderr)
		}
	}
}

func emit(n int, useStderr bool) {
	format := lines[n%len(lines)]
	out := os.Stdout
	switch n % len(lines) {
	case 1:
		fmt.Fprintf(out, format+"\n", 40+n)
		return
	case 2, 4:
		if useStderr {
			out = os.Stderr
		}
		fmt.Fprintf(out, format+"\n", n)
		return
	}
	fmt.Fprintln(out, format)
}
