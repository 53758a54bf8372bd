// Package serialtelnet mirrors a serial byte stream onto a telnet
// connection, so the same stream can be followed locally and by one remote
// client at a time, and keeps collecting output while nobody is connected.
//
// The bridge is driven cooperatively: call Handle periodically (or Run) and
// it accepts or rejects clients, flushes buffered output in blocks, sends
// keepalives on idle connections and decodes client input.
//
// Features:
//   - Transmit ring buffer that survives disconnects, with a drop-oldest-line overflow policy
//   - Block scheduler: minimum/maximum block size, collecting time, keepalive pings
//   - Telnet NVT decoding (RFC 854 subset): commands, negotiation, subnegotiation, escaped 0xff
//   - Single-character input filter with an optional reply and callback
//   - Exactly one client; extra clients get a reject message
//   - Process-wide DebugOutput hook that mirrors log output to the client
//   - Raw Linux serial port as the local side, tested against PTYs
//
// This package does **not** support Windows.
//
// Example usage:
//
//	port, err := serialtelnet.OpenSerial(serialtelnet.SerialConfig{
//	    Device:   "/dev/ttyUSB0",
//	    BaudRate: 115200,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cfg := serialtelnet.DefaultConfig()
//	cfg.Local = port
//	bridge := serialtelnet.New(cfg)
//	bridge.Start()
//
//	ctx, cancel := context.WithCancel(context.Background())
//	done := make(chan error, 1)
//	go func() { done <- bridge.Run(ctx, 10*time.Millisecond) }()
//
//	// Written to the serial port and to the telnet client.
//	fmt.Fprintln(bridge, "C,START")
//
//	// Stop Run before Close: both belong to the same goroutine.
//	cancel()
//	<-done
//	bridge.Close()
package serialtelnet
