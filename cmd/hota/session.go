package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"b91/hota/bootloader"
	"b91/hota/flash"
	"b91/hota/ota"
	"b91/hota/sim"
	"b91/hota/telemetry"
	"b91/hota/version"
)

const (
	otaChunkSize = 4096
	maxPrintLen  = 4096
)

var errUsage = errors.New("usage")

// session is one simulated firmware lifetime: a board booted from a flash
// device and the updater the firmware built at startup. restart, rollback
// and boot reset the board and start a new updater.
type session struct {
	dev    flash.Device
	board  *sim.Board
	u      *ota.Updater
	out    io.Writer
	logger *slog.Logger

	pub            *telemetry.Publisher
	publishTimeout time.Duration
	progress       bool
}

func newSession(dev flash.Device, out io.Writer, logger *slog.Logger) (*session, error) {
	s := &session{
		dev:            dev,
		board:          sim.New(dev),
		out:            out,
		logger:         logger,
		publishTimeout: 10 * time.Second,
	}
	if err := s.powerOn(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) powerOn() error {
	boot, err := s.board.PowerOn()
	if err != nil {
		return err
	}
	s.logger.Debug("sim:boot", slog.String("boot", boot.String()))
	return s.attach()
}

// attach starts the updater for whatever bank the board runs now.
func (s *session) attach() error {
	u, err := ota.New(s.dev, s.board,
		ota.WithLogger(s.logger),
		ota.WithStatusHook(telemetry.StatusHook()),
	)
	if err != nil {
		return err
	}
	s.u = u
	return nil
}

type command struct {
	usage string
	run   func(s *session, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"info":          {"info", (*session).cmdInfo},
		"upload":        {"upload [-restart] [-sha256 hex] <fw.bin|fw.hex> [partition]", (*session).cmdUpload},
		"print":         {"print <partition> <offset> <length>", (*session).cmdPrint},
		"hash":          {"hash <partition> <offset> <length>", (*session).cmdHash},
		"export":        {"export <partition> <length> <out.hex>", (*session).cmdExport},
		"cancel":        {"cancel", (*session).cmdCancel},
		"restart":       {"restart", (*session).cmdRestart},
		"rollback":      {"rollback", (*session).cmdRollback},
		"boot":          {"boot", (*session).cmdBoot},
		"runaddr":       {"runaddr [addr|clear]", (*session).cmdRunAddr},
		"meta":          {"meta [text]", (*session).cmdMeta},
		"check-version": {"check-version <current> <candidate> [n]", (*session).cmdCheckVersion},
		"status":        {"status", (*session).cmdStatus},
		"version":       {"version", (*session).cmdVersion},
		"help":          {"help", (*session).cmdHelp},
	}
}

// exec runs one command line already split into words.
func (s *session) exec(args []string) error {
	if len(args) == 0 {
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
	err := cmd.run(s, args[1:])
	switch {
	case errors.Is(err, errUsage):
		err = fmt.Errorf("usage: %s", cmd.usage)
	case err != nil:
		telemetry.LogError("cmd:" + args[0] + " " + err.Error())
	}
	s.flush()
	return err
}

// flush publishes queued telemetry when a broker is configured. The
// publisher logs failures itself.
func (s *session) flush() {
	if s.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
	defer cancel()
	s.pub.Flush(ctx)
}

func (s *session) cmdHelp(args []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(s.out, "  %s\n", commands[name].usage)
	}
	return nil
}

func (s *session) cmdInfo(args []string) error {
	l := s.u.Layout()
	fmt.Fprintf(s.out, "Flash: %d KB (first invalid byte %#08x)\n", l.FlashSize/1024, l.FirstInvalidByte)
	fmt.Fprintf(s.out, "Running bank: %#08x (strap %d)\n", l.BankAddr(ota.RunningBank), s.board.BootStrap())
	fmt.Fprintf(s.out, "Other bank: %#08x\n", l.BankAddr(ota.OtherBank))
	fmt.Fprintf(s.out, "Last boot: %s\n", s.board.LastBoot())

	fmt.Fprintln(s.out, "Partitions:")
	for i := 0; i < l.PartitionCount(); i++ {
		base, _ := l.PartitionAddr(i)
		fmt.Fprintf(s.out, "  [%d] %#08x\n", i, base)
	}

	for _, bank := range []uint32{0, ota.PartitionsStart} {
		var mark [len(ota.BootMark)]byte
		if err := s.dev.ReadPage(bank+ota.BootMarkOffset, mark[:]); err != nil {
			return err
		}
		state := "clear"
		if bytes.Equal(mark[:], ota.BootMark[:]) {
			state = "set"
		}
		fmt.Fprintf(s.out, "Boot mark %#08x: %s\n", bank, state)
	}

	runAddr, err := bootloader.ReadRunAddr(s.dev)
	if err != nil {
		return err
	}
	if runAddr == bootloader.NoOverride {
		fmt.Fprintln(s.out, "Run address: none")
	} else {
		fmt.Fprintf(s.out, "Run address: %#08x\n", runAddr)
	}

	if p, ok := s.u.Active(); ok {
		fmt.Fprintf(s.out, "Session: writing partition %d\n", p)
	} else {
		fmt.Fprintln(s.out, "Session: idle")
	}
	return nil
}

func (s *session) cmdUpload(args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	restart := fs.Bool("restart", false, "switch to the new image after upload")
	digest := fs.String("sha256", "", "expected SHA-256 of the image")
	pos, err := parseInterleaved(fs, args)
	if err != nil || len(pos) < 1 || len(pos) > 2 {
		return errUsage
	}
	partition := 0
	if len(pos) == 2 {
		if partition, err = strconv.Atoi(pos[1]); err != nil {
			return errUsage
		}
	}

	fw, err := loadFirmware(pos[0])
	if err != nil {
		return err
	}
	if len(fw) == 0 {
		return errors.New("empty firmware image")
	}
	fmt.Fprintf(s.out, "Firmware: %s\n", pos[0])
	fmt.Fprintf(s.out, "Binary size: %d bytes (%d KB)\n", len(fw), len(fw)/1024)

	stream := s.u.NewStream(partition, 0)
	total := (len(fw) + otaChunkSize - 1) / otaChunkSize
	for i := 0; i < len(fw); i += otaChunkSize {
		chunk := fw[i:min(i+otaChunkSize, len(fw))]
		if _, err := stream.Write(chunk); err != nil {
			if s.progress {
				fmt.Fprintln(s.out)
			}
			return fmt.Errorf("chunk %d: %w", i/otaChunkSize+1, err)
		}
		if s.progress {
			done := i + len(chunk)
			fmt.Fprintf(s.out, "\r[%3d%%] Chunk %d/%d", done*100/len(fw), i/otaChunkSize+1, total)
		}
	}
	if s.progress {
		fmt.Fprintln(s.out)
	}
	telemetry.RecordCounter("ota.bytes", int64(stream.Written()))

	if err := stream.Verify(*digest); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "SHA256: %x\n", stream.Sum())

	if *restart {
		return s.cmdRestart(nil)
	}
	return nil
}

// parseInterleaved lets flags follow positional arguments.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return pos, nil
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}

// rangeArgs parses "<partition> <offset> <length>".
func rangeArgs(args []string) (partition int, offset, length uint32, err error) {
	if len(args) != 3 {
		return 0, 0, 0, errUsage
	}
	if partition, err = strconv.Atoi(args[0]); err != nil {
		return 0, 0, 0, errUsage
	}
	if offset, err = parseUint32(args[1]); err != nil {
		return 0, 0, 0, errUsage
	}
	if length, err = parseUint32(args[2]); err != nil || length == 0 {
		return 0, 0, 0, errUsage
	}
	return partition, offset, length, nil
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}

func (s *session) cmdPrint(args []string) error {
	partition, offset, length, err := rangeArgs(args)
	if err != nil {
		return err
	}
	if length > maxPrintLen {
		return fmt.Errorf("length %d exceeds %d", length, maxPrintLen)
	}
	buf := make([]byte, length)
	if err := s.u.Read(partition, offset, buf); err != nil {
		return err
	}
	d := hex.Dumper(s.out)
	d.Write(buf)
	return d.Close()
}

func (s *session) cmdHash(args []string) error {
	partition, offset, length, err := rangeArgs(args)
	if err != nil {
		return err
	}
	sum, err := s.u.HashRange(partition, offset, length)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%x\n", sum)
	return nil
}

func (s *session) cmdExport(args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	partition, offset, length, err := rangeArgs([]string{args[0], "0", args[1]})
	if err != nil {
		return err
	}
	base, _, err := s.u.Layout().Resolve(partition, offset, int(length))
	if err != nil {
		return err
	}
	buf := make([]byte, length)
	if err := s.u.Read(partition, offset, buf); err != nil {
		return err
	}

	f, err := os.Create(args[2])
	if err != nil {
		return err
	}
	if err := writeHex(f, base, buf); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Exported %d bytes at %#08x to %s\n", length, base, args[2])
	return nil
}

func (s *session) cmdCancel(args []string) error {
	if err := s.u.Deinit(); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Update cancelled")
	return nil
}

// The status hook pauses telemetry for the boot switch; the board comes
// back with it running, or the switch failed and the firmware carries on.
func (s *session) cmdRestart(args []string) error {
	defer telemetry.Resume()
	if err := s.u.Restart(); err != nil {
		return err
	}
	return s.rebooted()
}

func (s *session) cmdRollback(args []string) error {
	defer telemetry.Resume()
	if err := s.u.Rollback(); err != nil {
		return err
	}
	return s.rebooted()
}

func (s *session) rebooted() error {
	fmt.Fprintf(s.out, "Rebooted: %s\n", s.board.LastBoot())
	return s.attach()
}

func (s *session) cmdBoot(args []string) error {
	if err := s.powerOn(); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Booted: %s\n", s.board.LastBoot())
	return nil
}

func (s *session) cmdRunAddr(args []string) error {
	switch {
	case len(args) == 0:
		addr, err := bootloader.ReadRunAddr(s.dev)
		if err != nil {
			return err
		}
		if addr == bootloader.NoOverride {
			fmt.Fprintln(s.out, "Run address: none")
		} else {
			fmt.Fprintf(s.out, "Run address: %#08x\n", addr)
		}
		return nil
	case len(args) == 1 && args[0] == "clear":
		return bootloader.ClearRunAddress(s.dev)
	case len(args) == 1:
		addr, err := parseUint32(args[0])
		if err != nil {
			return errUsage
		}
		return bootloader.SaveRunAddress(s.dev, addr)
	}
	return errUsage
}

func (s *session) cmdMeta(args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	if len(args) == 1 {
		var md ota.MetaData
		copy(md[:], args[0])
		s.u.SetMetaData(md)
		return nil
	}
	md := s.u.GetMetaData()
	fmt.Fprintf(s.out, "%q\n", bytes.TrimRight(md[:], "\x00"))
	return nil
}

func (s *session) cmdCheckVersion(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage
	}
	n := max(len(args[0]), len(args[1]))
	if len(args) == 3 {
		v, err := strconv.Atoi(args[2])
		if err != nil || v < 0 {
			return errUsage
		}
		n = v
	}
	if ota.CheckVersionValid(args[0], args[1], n) {
		fmt.Fprintln(s.out, "valid")
	} else {
		fmt.Fprintln(s.out, "invalid")
	}
	return nil
}

func (s *session) cmdStatus(args []string) error {
	st := telemetry.Status()
	fmt.Fprintf(s.out, "Telemetry: %d logs, %d metrics queued; %d logs, %d metrics sent; %d errors\n",
		st.QueuedLogs, st.QueuedMetrics, st.SentLogs, st.SentMetrics, st.SendErrors)
	fmt.Fprintf(s.out, "Resets: %d, reboot allowed: %v\n", s.board.Resets(), s.u.IsDeviceCanReboot())
	return nil
}

func (s *session) cmdVersion(args []string) error {
	fmt.Fprintln(s.out, version.String())
	return nil
}
