/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jessegalley/ioprobe/internal/ingest"
	"github.com/jessegalley/ioprobe/internal/layout"
	"github.com/jessegalley/ioprobe/internal/stats"
)

var (
	sendFile string // upload this file instead of the generated pattern
	sendName string // file name announced to the server
	sendSize int64  // pattern bytes to upload
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <addr>",
	Short: "Upload a file or a generated pattern to an ioprobe server.",
	Long: `Send a header announcing the file name and size, then exactly that many
bytes. Without --file a deterministic pattern is sent, which the received
file can be verified against.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSend(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendFile, "file", "", "file to upload (default: generated pattern)")
	sendCmd.Flags().StringVar(&sendName, "name", "", "file name announced to the server (default: base name of --file, or ioprobe_upload.dat)")
	sendCmd.Flags().Int64VarP(&sendSize, "size", "s", 1<<30, "pattern bytes to upload")
}

func runSend(cmd *cobra.Command, addr string) error {
	h := ingest.Header{FileName: sendName, DeclaredSize: uint64(sendSize)}
	var r io.Reader

	if sendFile != "" {
		f, err := os.Open(sendFile)
		if err != nil {
			return errors.Wrap(err, "open upload")
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return errors.Wrap(err, "stat upload")
		}
		h.DeclaredSize = uint64(info.Size())
		if h.FileName == "" {
			h.FileName = filepath.Base(sendFile)
		}
		r = f
	} else {
		if sendSize < 0 {
			return errors.Errorf("size cannot be negative, got %d", sendSize)
		}
		if h.FileName == "" {
			h.FileName = "ioprobe_upload.dat"
		}
		r = layout.NewPatternReader(sendSize)
	}

	level.Info(logger).Log("msg", "sending", "addr", addr, "file", h.FileName, "size", h.DeclaredSize)
	res, err := ingest.Send(cmd.Context(), addr, h, r, ingest.SendOptions{
		Limiter:     newLimiter(ingest.DefaultChunkSize),
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Sent: %d bytes to %s, Throughput: %.2f MiB/s\n", res.Sent, addr, stats.MiBps(res.Sent, res.Elapsed))
	return nil
}
