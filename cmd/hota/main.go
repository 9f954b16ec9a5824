// Command hota drives the B91 dual-bank OTA updater against a flash image
// file, with a simulated board standing in for the boot ROM and reset.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"golang.org/x/term"

	"b91/hota/config"
	"b91/hota/flash"
	"b91/hota/telemetry"
)

const defaultImageSize = 2 * 1024 * 1024

func main() {
	image := flag.String("image", "flash.img", "Flash image file")
	size := flag.String("size", strconv.Itoa(defaultImageSize), "Image size in bytes for create (power of two)")
	broker := flag.String("broker", "", "MQTT broker host:port for status publishing (default from config)")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}

	level := config.LogLevel()
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(telemetry.NewSlogHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*image, *size, *broker, flag.Args(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(imagePath, size, broker string, args []string, logger *slog.Logger) error {
	if args[0] == "create" {
		n, err := parseUint32(size)
		if err != nil {
			return fmt.Errorf("bad -size %q: %w", size, err)
		}
		img, err := flash.CreateImage(imagePath, n)
		if err != nil {
			return err
		}
		fmt.Printf("Created %s (%d KB, erased)\n", imagePath, n/1024)
		return img.Close()
	}

	img, err := flash.OpenImage(imagePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s does not exist (run 'hota create' first)", imagePath)
		}
		return err
	}
	defer img.Close()

	s, err := newSession(img, os.Stdout, logger)
	if err != nil {
		return err
	}
	s.progress = term.IsTerminal(int(os.Stdout.Fd()))
	s.publishTimeout = config.PublishTimeout()
	if err := attachPublisher(s, broker, logger); err != nil {
		return err
	}

	if args[0] == "console" {
		return s.console(os.Stdin, term.IsTerminal(int(os.Stdin.Fd())))
	}
	return s.exec(args)
}

// attachPublisher wires MQTT publishing from the -broker flag, falling back
// to broker.text. Without a broker nothing would drain the queues, so
// telemetry is disabled.
func attachPublisher(s *session, broker string, logger *slog.Logger) error {
	if broker == "" {
		if !config.HasBroker() {
			telemetry.Disable()
			return nil
		}
		addr, err := config.BrokerAddr()
		if err != nil {
			return fmt.Errorf("broker.text: %w", err)
		}
		broker = addr.String()
	}
	s.pub = telemetry.NewPublisher(broker, config.ClientID(), config.StatusTopic(),
		telemetry.WithPublisherLogger(logger),
	)
	return nil
}

func printUsage() {
	fmt.Println("B91 OTA host tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  hota [-image flash.img] [-size n] [-broker host:port] [-v] <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  create                          Create an erased flash image")
	fmt.Println("  info                            Show layout, boot marks and run address")
	fmt.Println("  upload <fw.bin|fw.hex> [p]      Write firmware into partition p (default 0)")
	fmt.Println("         [-restart] [-sha256 h]   ...then switch to it / verify its hash")
	fmt.Println("  print <p> <off> <len>           Hex dump part of a partition")
	fmt.Println("  hash <p> <off> <len>            SHA-256 of part of a partition")
	fmt.Println("  export <p> <len> <out.hex>      Save part of a partition as Intel HEX")
	fmt.Println("  rollback                        Boot the other bank")
	fmt.Println("  boot                            Power cycle the simulated board")
	fmt.Println("  runaddr [addr|clear]            Show or set the boot stage run address")
	fmt.Println("  check-version <cur> <cand> [n]  Compare version strings")
	fmt.Println("  console                         Read commands from stdin in one session")
	fmt.Println()
	fmt.Println("Session commands (use in console, after upload): restart, cancel, meta [text]")
	fmt.Println("Also: status, version, help")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  hota create")
	fmt.Println("  hota upload -restart build/app.hex")
	fmt.Println("  printf 'upload app.bin\\nrestart\\ninfo\\n' | hota console")
}
