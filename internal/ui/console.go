package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"chunkup/pkg/types"
	"chunkup/pkg/utils"
)

// ConsoleUI renders one progress bar per file and prints outcomes
type ConsoleUI struct {
	out io.Writer

	mu     sync.Mutex
	bars   map[string]*progressbar.ProgressBar
	starts map[string]time.Time
}

// NewConsoleUI creates a console UI writing to out. A nil out uses stderr.
func NewConsoleUI(out io.Writer) *ConsoleUI {
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleUI{
		out:    out,
		bars:   make(map[string]*progressbar.ProgressBar),
		starts: make(map[string]time.Time),
	}
}

// ShowMessage displays a message to the user
func (c *ConsoleUI) ShowMessage(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, message)
}

// Handle renders a file event
func (c *ConsoleUI) Handle(ev types.FileEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case types.EventFileAdded:
		fmt.Fprintf(c.out, "Queued %s (%s) [%s]\n", ev.File.Name, utils.FormatFileSize(ev.File.Size), shortID(ev.File.Identifier))
	case types.EventFileProgress:
		c.updateProgress(ev.File)
	case types.EventFileSucceeded:
		c.finishBar(ev.File.Identifier, true)
		c.showSummary(ev)
	case types.EventFileFailed:
		c.finishBar(ev.File.Identifier, false)
		fmt.Fprintf(c.out, "Upload of %s stopped at %.1f%%: %s\n", ev.File.Name, ev.File.Progress, ev.Message)
	}
}

func (c *ConsoleUI) updateProgress(info types.FileInfo) {
	if info.Status != types.StatusProgress {
		return
	}

	bar, ok := c.bars[info.Identifier]
	if !ok {
		bar = progressbar.NewOptions64(info.Size,
			progressbar.OptionSetDescription(fmt.Sprintf("Uploading %s", info.Name)),
			progressbar.OptionSetWriter(c.out),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(50),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetPredictTime(false),
		)
		c.bars[info.Identifier] = bar
		c.starts[info.Identifier] = time.Now()
	}

	sent := int64(info.Progress / 100 * float64(info.Size))
	_ = bar.Set64(sent)

	eta := "--"
	if info.TimeRemaining != nil {
		eta = info.TimeRemaining.Round(time.Second).String()
	}
	bar.Describe(fmt.Sprintf("Uploading %s (%s/s, eta %s)", info.Name, utils.FormatFileSize(int64(info.Speed)), eta))
}

func (c *ConsoleUI) finishBar(id string, complete bool) {
	bar, ok := c.bars[id]
	if !ok {
		return
	}
	if complete {
		_ = bar.Finish()
	} else {
		_ = bar.Exit()
	}
	fmt.Fprintln(c.out)
	delete(c.bars, id)
}

func (c *ConsoleUI) showSummary(ev types.FileEvent) {
	elapsed := time.Duration(0)
	if start, ok := c.starts[ev.File.Identifier]; ok {
		elapsed = time.Since(start)
		delete(c.starts, ev.File.Identifier)
	}

	fmt.Fprintf(c.out, "=============================================\n")
	fmt.Fprintf(c.out, "%s: %s\n", ev.File.Name, ev.Message)
	fmt.Fprintf(c.out, "+ Size: %s\n", utils.FormatFileSize(ev.File.Size))
	fmt.Fprintf(c.out, "+ Transfer time: %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(c.out, "+ Identifier: %s\n", ev.File.Identifier)
	fmt.Fprintf(c.out, "=============================================\n")
}

// PrintFiles lists files with their state
func (c *ConsoleUI) PrintFiles(files []types.FileInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(files) == 0 {
		fmt.Fprintln(c.out, "No files")
		return
	}
	for _, f := range files {
		fmt.Fprintf(c.out, "%-8s  %-8s  %5.1f%%  %10s  %s\n",
			shortID(f.Identifier), f.Status, f.Progress, utils.FormatFileSize(f.Size), f.Name)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
