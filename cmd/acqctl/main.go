package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/labsweep/acq"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	serverURL string
	runName   string
	mode      string
	wait      bool
	interval  time.Duration
)

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal(err)
	}
}

// waitFor shows a spinner until the run is over, then prints its status
func waitFor(c *Client, id string) error {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " acquiring",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopFailCharacter: "✗",
	})
	if err != nil {
		return err
	}
	if err := spinner.Start(); err != nil {
		return err
	}
	st, err := c.Wait(id, interval, func(st acq.Status) {
		spinner.Message(fmt.Sprintf("%s %s, %d frames, %d retries", st.Kind, st.State, st.Frames, st.Retries))
	})
	if err != nil || st.State == acq.Failed {
		spinner.StopFail()
	} else {
		spinner.Stop()
	}
	if err != nil {
		return err
	}
	printJSON(st)
	if st.State == acq.Failed {
		return fmt.Errorf("acqctl: run %s failed: %s", st.ID, st.Error)
	}
	return nil
}

func started(c *Client, id string) error {
	if wait {
		return waitFor(c, id)
	}
	fmt.Println(id)
	return nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "acqctl",
		Short:        "acqctl controls an acqsrv",
		Long:         `acqctl starts, watches, and cancels snapshots and sweeps on an acqsrv over HTTP.`,
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "url", "http://localhost:8000/acq", "root of the server's acquisition routes")
	root.PersistentFlags().DurationVar(&interval, "interval", 250*time.Millisecond, "status polling interval while waiting")

	snapshot := &cobra.Command{
		Use:   "snapshot",
		Short: "Take a snapshot",
		Long: `Take a snapshot at the current conditions.

Modes:
  averaged    one sample record, averaged shots and three background frames (default)
  raw         a single frame
  background  one frame and three background frames; updates the live view background`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := NewClient(serverURL)
			id, err := c.Snapshot(mode, runName)
			if err != nil {
				return err
			}
			return started(c, id)
		},
	}
	snapshot.Flags().StringVar(&mode, "mode", "averaged", "averaged, raw, or background")

	sweep := &cobra.Command{
		Use:   "sweep kind=start:stop:count|kind=v1,v2 ...",
		Short: "Run a parameter sweep",
		Long: `Run a sweep over up to three dimensions: wavelength (nm), defocus (um), and
medium (pump port).  The first dimension is the outermost loop.

Examples:
  # two wavelengths at each of three defocus values
  acqctl sweep defocus=-1:1:3 wavelength=500,600 --wait`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := SweepFromArgs(runName, args)
			if err != nil {
				return err
			}
			c := NewClient(serverURL)
			id, err := c.Sweep(req)
			if err != nil {
				return err
			}
			return started(c, id)
		},
	}

	for _, cmd := range []*cobra.Command{snapshot, sweep} {
		cmd.Flags().StringVar(&runName, "name", "", "name of the files written")
		cmd.Flags().BoolVar(&wait, "wait", false, "wait for the run to finish")
	}

	cancel := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return NewClient(serverURL).Cancel()
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the current or last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := NewClient(serverURL).Status()
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	}

	waitCmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for the active run to finish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return waitFor(NewClient(serverURL), "")
		},
	}

	root.AddCommand(snapshot, sweep, cancel, status, waitCmd)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}
