package esp

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"time"

	serialport "go.bug.st/serial"
)

// ROM loader command opcodes.
const (
	cmdFlashBegin = 0x02
	cmdFlashData  = 0x03
	cmdFlashEnd   = 0x04
	cmdSync       = 0x08

	// Stub loader extensions.
	cmdEraseChip = 0xd0
	cmdReadFlash = 0xd2
)

const (
	flashSectorSize = 4096
	writeBlockSize  = 0x400
	readBlockSize   = 0x1000

	resetHoldTime = 100 * time.Millisecond
	bootHoldTime  = 50 * time.Millisecond

	syncTimeout       = 500 * time.Millisecond
	commandTimeout    = 3 * time.Second
	blockTimeout      = 5 * time.Second
	flashBeginTimeout = 20 * time.Second
	eraseChipTimeout  = 60 * time.Second
)

// romPort is the slice of go.bug.st/serial.Port the client uses; tests
// substitute a fake.
type romPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// ROMClient drives the ESP ROM serial bootloader on one port. It is not
// safe for concurrent use; the pipeline is its only caller during a run.
type ROMClient struct {
	port romPort
	name string
}

// NewROMClient opens the port, resets the chip into its bootloader and
// syncs with it. The port is released again if entering the bootloader
// fails.
func NewROMClient(portName string, baud int) (*ROMClient, error) {
	mode := &serialport.Mode{
		BaudRate: baud,
		Parity:   serialport.NoParity,
		DataBits: 8,
		StopBits: serialport.OneStopBit,
	}

	p, err := serialport.Open(portName, mode)
	if err != nil {
		slog.Error("esp_open_failed", "port", portName, "error", err)
		return nil, fatal("open", err)
	}

	c := &ROMClient{port: p, name: portName}
	if err := c.enterBootloader(); err != nil {
		p.Close()
		return nil, err
	}

	slog.Info("esp_bootloader_ready", "port", portName, "baud", baud)
	return c, nil
}

// Close releases the serial port.
func (c *ROMClient) Close() error {
	return c.port.Close()
}

// enterBootloader tries the usual DTR/RTS strapping sequences. Boards wire
// the lines both ways around, so the inverted sequence is a second chance,
// and a plain sync probe covers boards already held in download mode.
func (c *ROMClient) enterBootloader() error {
	c.port.ResetInputBuffer()
	c.port.ResetOutputBuffer()
	time.Sleep(50 * time.Millisecond)

	c.hardReset(false)
	if err := c.sync(); err == nil {
		return nil
	}

	c.hardReset(true)
	if err := c.sync(); err == nil {
		slog.Info("esp_bootloader_inverted_reset", "port", c.name)
		return nil
	}

	if err := c.sync(); err == nil {
		return nil
	}

	return fatal("bootloader", fmt.Errorf("device on %s did not enter download mode; hold the boot button during reset and retry", c.name))
}

// hardReset pulses EN low while holding GPIO0 low so the chip wakes up in
// download mode.
func (c *ROMClient) hardReset(inverted bool) {
	set := func(dtr, rts bool) {
		if inverted {
			dtr, rts = !dtr, !rts
		}
		c.port.SetDTR(dtr)
		c.port.SetRTS(rts)
	}

	set(true, false) // GPIO0 low, EN high
	time.Sleep(10 * time.Millisecond)
	set(true, true) // EN low: reset
	time.Sleep(resetHoldTime)
	set(true, false) // EN high, GPIO0 still low
	time.Sleep(bootHoldTime)
	set(false, false) // release GPIO0
	time.Sleep(200 * time.Millisecond)
}

// Reboot resets the chip into its normal firmware.
func (c *ROMClient) Reboot() error {
	c.port.SetDTR(false)
	if err := c.port.SetRTS(true); err != nil {
		return fatal("reboot", err)
	}
	time.Sleep(resetHoldTime)
	if err := c.port.SetRTS(false); err != nil {
		return fatal("reboot", err)
	}
	slog.Info("esp_reboot", "port", c.name)
	return nil
}

// sync sends the loader's autobaud pattern until the chip answers.
func (c *ROMClient) sync() error {
	syncData := make([]byte, 36)
	syncData[0] = 0x07
	syncData[1] = 0x07
	syncData[2] = 0x12
	syncData[3] = 0x20
	for i := 4; i < len(syncData); i++ {
		syncData[i] = 0x55
	}

	for attempt := 0; attempt < 10; attempt++ {
		if err := c.send(cmdSync, syncData, 0); err != nil {
			return fatal("sync", err)
		}

		resp, err := c.readPacket(syncTimeout)
		if err == nil && len(resp) >= 8 && resp[0] == 0x01 && resp[1] == cmdSync {
			// The loader repeats the sync reply several times; flush them.
			for {
				if _, err := c.readPacket(100 * time.Millisecond); err != nil {
					break
				}
			}
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fatal("sync", fmt.Errorf("no response from chip"))
}

// send writes one command packet: direction, opcode, payload length,
// checksum, payload, all SLIP framed.
func (c *ROMClient) send(op byte, data []byte, chk uint32) error {
	packet := make([]byte, 8+len(data))
	packet[0] = 0x00 // request
	packet[1] = op
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(data)))
	binary.LittleEndian.PutUint32(packet[4:8], chk)
	copy(packet[8:], data)

	if _, err := c.port.Write(slipEncode(packet)); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// readPacket collects one SLIP frame within the deadline.
func (c *ROMClient) readPacket(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	c.port.SetReadTimeout(50 * time.Millisecond)

	var raw []byte
	inPacket := false
	buf := make([]byte, 1)

	for time.Now().Before(deadline) {
		n, err := c.port.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("read failed: %w", err)
		}
		if n == 0 {
			continue
		}

		b := buf[0]
		if !inPacket {
			if b == slipEnd {
				inPacket = true
				raw = append(raw, b)
			}
			continue
		}

		raw = append(raw, b)
		if b == slipEnd {
			return slipDecode(raw)
		}
	}

	return nil, fmt.Errorf("timeout waiting for response")
}

// command runs one request/response cycle and validates the reply header
// and trailing status byte.
func (c *ROMClient) command(op byte, data []byte, chk uint32, timeout time.Duration) ([]byte, error) {
	if err := c.send(op, data, chk); err != nil {
		return nil, err
	}

	resp, err := c.readPacket(timeout)
	if err != nil {
		return nil, err
	}
	if len(resp) < 8 || resp[0] != 0x01 || resp[1] != op {
		return nil, fmt.Errorf("unexpected response to command 0x%02x", op)
	}
	if len(resp) >= 12 {
		if status := resp[len(resp)-4]; status != 0x00 {
			return nil, fmt.Errorf("command 0x%02x failed with status %d", op, status)
		}
	}
	return resp, nil
}

// WriteFlash writes image to flash at offset, optionally wiping the whole
// chip first. Progress covers the data transfer; erase and trailer are
// bracketed at 0 and 1.
func (c *ROMClient) WriteFlash(ctx context.Context, image []byte, offset uint32, opts WriteOptions, progress Progress) error {
	if progress == nil {
		progress = func(float64) {}
	}

	size := uint32(len(image))
	totalBlocks := (len(image) + writeBlockSize - 1) / writeBlockSize

	slog.Info("esp_write_begin",
		"port", c.name,
		"size", size,
		"offset", fmt.Sprintf("0x%x", offset),
		"blocks", totalBlocks,
		"erase_all", opts.EraseAll,
		"flash_mode", opts.FlashMode,
	)

	if opts.EraseAll {
		if _, err := c.command(cmdEraseChip, nil, 0, eraseChipTimeout); err != nil {
			return fatal("erase", err)
		}
		slog.Info("esp_chip_erased", "port", c.name)
	}

	if err := c.flashBegin(size, offset); err != nil {
		return fatal("flash begin", err)
	}
	progress(0)

	for seq := 0; seq < totalBlocks; seq++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start := seq * writeBlockSize
		end := start + writeBlockSize
		if end > len(image) {
			end = len(image)
		}

		block := make([]byte, writeBlockSize)
		n := copy(block, image[start:end])
		for i := n; i < writeBlockSize; i++ {
			block[i] = 0xFF
		}

		if err := c.flashData(block, uint32(seq)); err != nil {
			return fatal("flash data", fmt.Errorf("block %d/%d: %w", seq+1, totalBlocks, err))
		}
		progress(float64(seq+1) / float64(totalBlocks))
	}

	if err := c.flashEnd(); err != nil {
		return fatal("flash end", err)
	}
	progress(1)

	slog.Info("esp_write_complete", "port", c.name, "size", size)
	return nil
}

func (c *ROMClient) flashBegin(size, offset uint32) error {
	sectors := (size + flashSectorSize - 1) / flashSectorSize
	eraseSize := sectors * flashSectorSize
	numBlocks := (size + writeBlockSize - 1) / writeBlockSize

	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], eraseSize)
	binary.LittleEndian.PutUint32(data[4:8], numBlocks)
	binary.LittleEndian.PutUint32(data[8:12], writeBlockSize)
	binary.LittleEndian.PutUint32(data[12:16], offset)

	// Sector erase happens inside this command; the timeout is generous.
	_, err := c.command(cmdFlashBegin, data, 0, flashBeginTimeout)
	return err
}

func (c *ROMClient) flashData(block []byte, seq uint32) error {
	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(block)))
	binary.LittleEndian.PutUint32(header[4:8], seq)

	payload := append(header, block...)
	_, err := c.command(cmdFlashData, payload, checksum(block), blockTimeout)
	return err
}

func (c *ROMClient) flashEnd() error {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, 1) // stay in loader; reboot is explicit
	_, err := c.command(cmdFlashEnd, data, 0, commandTimeout)
	return err
}

// ReadFlash streams size bytes starting at offset into the file at path.
// The loader pushes SLIP data packets which the host acknowledges with a
// running byte count; a 16-byte digest trailer closes the stream.
func (c *ROMClient) ReadFlash(ctx context.Context, offset, size uint32, path string, progress Progress) error {
	if progress == nil {
		progress = func(float64) {}
	}

	slog.Info("esp_read_begin",
		"port", c.name,
		"offset", fmt.Sprintf("0x%x", offset),
		"size", size,
		"path", path,
	)

	f, err := os.Create(path)
	if err != nil {
		return fatal("read", err)
	}
	defer f.Close()

	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], offset)
	binary.LittleEndian.PutUint32(params[4:8], size)
	binary.LittleEndian.PutUint32(params[8:12], readBlockSize)
	binary.LittleEndian.PutUint32(params[12:16], 1) // packets in flight

	if _, err := c.command(cmdReadFlash, params, 0, commandTimeout); err != nil {
		return fatal("read", err)
	}

	var received uint32
	for received < size {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		packet, err := c.readPacket(blockTimeout)
		if err != nil {
			return fatal("read", fmt.Errorf("at offset 0x%x: %w", offset+received, err))
		}

		if remaining := size - received; uint32(len(packet)) > remaining {
			packet = packet[:remaining]
		}
		if _, err := f.Write(packet); err != nil {
			return fatal("read", err)
		}
		received += uint32(len(packet))

		ack := make([]byte, 4)
		binary.LittleEndian.PutUint32(ack, received)
		if _, err := c.port.Write(slipEncode(ack)); err != nil {
			return fatal("read", err)
		}

		progress(float64(received) / float64(size))
	}

	// Digest trailer; verification is left to the caller's checksum of the
	// artifact, but the packet must be consumed.
	if _, err := c.readPacket(commandTimeout); err != nil {
		slog.Warn("esp_read_no_digest", "port", c.name, "error", err)
	}

	slog.Info("esp_read_complete", "port", c.name, "path", path, "size", received)
	return nil
}
