//go:build !tinygo

package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"
)

var (
	monitorPort   string
	monitorBaud   int
	monitorStamps bool
	monitorFilter string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Tail a board's UART log",
	Long: `Open the board's serial port and print each log line as it arrives.
--grep keeps only lines containing the given text (e.g. "device:" or "ota:").`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVarP(&monitorPort, "port", "p", "", "Serial port device")
	monitorCmd.Flags().IntVarP(&monitorBaud, "baud", "b", 115200, "Baud rate")
	monitorCmd.Flags().BoolVarP(&monitorStamps, "timestamps", "t", true, "Prefix each line with the host time")
	monitorCmd.Flags().StringVar(&monitorFilter, "grep", "", "Only print lines containing this text")
	_ = monitorCmd.MarkFlagRequired("port")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	mode := &serial.Mode{
		BaudRate: monitorBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(monitorPort, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %v", monitorPort, err)
	}
	defer port.Close()

	fmt.Fprintf(cmd.ErrOrStderr(), "Monitoring %s @ %d baud (Ctrl+C to stop)\n", monitorPort, monitorBaud)

	var stamp func() string
	if monitorStamps {
		stamp = func() string { return time.Now().Format("15:04:05.000") }
	}
	return tailLines(port, cmd.OutOrStdout(), monitorFilter, stamp)
}

// tailLines copies r to w line by line until r ends. Carriage returns from
// the UART are dropped; stamp, if set, prefixes every line.
func tailLines(r io.Reader, w io.Writer, filter string, stamp func() string) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024), 64*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if filter != "" && !strings.Contains(line, filter) {
			continue
		}
		var err error
		if stamp != nil {
			_, err = fmt.Fprintf(w, "[%s] %s\n", stamp(), line)
		} else {
			_, err = fmt.Fprintln(w, line)
		}
		if err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("read serial: %w", err)
	}
	return nil
}
