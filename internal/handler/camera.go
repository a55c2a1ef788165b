package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"edgeclassifier/internal/config"
	"edgeclassifier/internal/logger"
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

const maxFrameSize = 4 << 20

// FrameReceiver accepts complete JPEG images from a camera.
type FrameReceiver interface {
	Push(camera string, jpeg []byte)
}

// UDPCameraHandler listens for UDP packets from cameras, reassembles JPEG
// frames and hands complete frames to receiver. It returns when ctx is done.
func UDPCameraHandler(ctx context.Context, receiver FrameReceiver, logger *logger.Logger, cfg *config.Config) error {
	port := strconv.Itoa(cfg.CamerasPort)

	addr, err := net.ResolveUDPAddr("udp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP port %s: %w", port, err)
	}
	logger.Info("UDP Camera handler started on port %s", port)
	return ServeCameras(ctx, conn, receiver, logger, cfg.CameraNames)
}

// ServeCameras reads camera packets from conn until ctx is done and closes
// conn on return.
func ServeCameras(ctx context.Context, conn net.PacketConn, receiver FrameReceiver, logger *logger.Logger, names map[string]string) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	defer conn.Close()

	buffer := make([]byte, 65536)
	cameraBuffers := make(map[string]*bytes.Buffer)

	for {
		n, remoteAddr, err := conn.ReadFrom(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Error("Error reading UDP packet: %v", err)
			continue
		}

		cameraName := CameraName(remoteAddr, names)
		imgBuffer, ok := cameraBuffers[cameraName]
		if !ok {
			imgBuffer = new(bytes.Buffer)
			cameraBuffers[cameraName] = imgBuffer
		}

		data := buffer[:n]
		if bytes.HasPrefix(data, jpegHeader) {
			imgBuffer.Reset()
		}
		if imgBuffer.Len()+n > maxFrameSize {
			logger.Warning("Camera %s: frame exceeds %d bytes, discarding", cameraName, maxFrameSize)
			imgBuffer.Reset()
			continue
		}
		imgBuffer.Write(data)

		if bytes.HasSuffix(data, jpegFooter) {
			fullFrame := make([]byte, imgBuffer.Len())
			copy(fullFrame, imgBuffer.Bytes())
			receiver.Push(cameraName, fullFrame)
			imgBuffer.Reset()
		}
	}
}

// CameraName maps the sender address to its configured camera name.
func CameraName(addr net.Addr, names map[string]string) string {
	ip := addr.String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	if name, ok := names[ip]; ok {
		return name
	}
	return "unknown_" + strings.ReplaceAll(ip, ":", "_")
}
