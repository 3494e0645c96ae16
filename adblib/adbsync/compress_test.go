package adbsync

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/tetherkit/tetherkit/adb/adbproto"
	"github.com/tetherkit/tetherkit/adb/adbproto/syncproto"
)

// featureServer is a syncServer which also advertises features.
type featureServer struct {
	syncServer
	features []adbproto.Feature
}

func (s *featureServer) SupportsFeature(f adbproto.Feature) bool {
	for _, sf := range s.features {
		if sf == f {
			return true
		}
	}
	return false
}

func TestCompressionNegotiate(t *testing.T) {
	features := func(fs ...adbproto.Feature) *featureServer {
		return &featureServer{features: fs}
	}
	for _, tc := range []struct {
		name   string
		config *CompressionConfig
		dialer *featureServer
		expect CompressionMethod
	}{
		{"NoFeatures", nil, features(), compressionMethodNone},
		{"NoV2", nil, features(adbproto.FeatureSendRecv2Zstd), compressionMethodNone},
		{"Zstd", nil, features(adbproto.FeatureSendRecv2, adbproto.FeatureSendRecv2Zstd), CompressionMethodZstd},
		{"PreferZstd", nil, features(adbproto.FeatureSendRecv2, adbproto.FeatureSendRecv2Brotli, adbproto.FeatureSendRecv2Zstd), CompressionMethodZstd},
		{"FallbackBrotli", nil, features(adbproto.FeatureSendRecv2, adbproto.FeatureSendRecv2Brotli), CompressionMethodBrotli},
		{"Disabled", &CompressionConfig{Methods: []CompressionMethod{}}, features(adbproto.FeatureSendRecv2, adbproto.FeatureSendRecv2Zstd), compressionMethodNone},
		{"Restricted", &CompressionConfig{Methods: []CompressionMethod{CompressionMethodLZ4}}, features(adbproto.FeatureSendRecv2, adbproto.FeatureSendRecv2Zstd), compressionMethodNone},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if act, exp := tc.config.negotiate(tc.dialer), tc.expect; act != exp {
				t.Errorf("expected %q, got %q", exp, act)
			}
		})
	}
}

func TestSendCompressed(t *testing.T) {
	payload := strings.Repeat("compress me, compress me\n", 3000)

	var got bytes.Buffer
	srv := &featureServer{features: []adbproto.Feature{adbproto.FeatureSendRecv2, adbproto.FeatureSendRecv2Zstd}}
	srv.syncServer = syncServer{t, func(t *testing.T, conn net.Conn) {
		if path := readSyncRequest(t, conn, syncproto.Packet_SEND_V2); path != "/sdcard/test.txt" {
			t.Errorf("unexpected path %q", path)
		}
		var req syncproto.SyncSend2
		var id [4]byte
		if _, err := io.ReadFull(conn, id[:]); err != nil {
			t.Errorf("read send2 id: %v", err)
			return
		}
		if err := binary.Read(conn, binary.LittleEndian, &req); err != nil {
			t.Errorf("read send2 request: %v", err)
			return
		}
		if act, exp := req.Flags, syncproto.SyncFlag_Zstd; act != exp {
			t.Errorf("expected flags %#x, got %#x", exp, act)
		}
		if act, exp := req.Mode, uint32(0o644); act != exp {
			t.Errorf("expected mode %o, got %o", exp, act)
		}

		dec, err := zstd.NewReader(syncproto.SyncDataReader(conn))
		if err != nil {
			t.Errorf("new zstd reader: %v", err)
			return
		}
		defer dec.Close()
		if _, err := got.ReadFrom(dec.IOReadCloser()); err != nil {
			t.Errorf("decompress data: %v", err)
			return
		}
		writeFrame(t, conn, syncproto.Packet_OKAY, 0, nil)
	}}

	c := &Client{Server: srv}
	err := c.Send(t.Context(), "/sdcard/test.txt", 0o644, time.Unix(1700000000, 0), strings.NewReader(payload), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.String() != payload {
		t.Error("decompressed data does not match source")
	}
}

func TestRecvCompressed(t *testing.T) {
	payload := strings.Repeat("decompress me, decompress me\n", 3000)

	srv := &featureServer{features: []adbproto.Feature{adbproto.FeatureSendRecv2, adbproto.FeatureSendRecv2Zstd}}
	srv.syncServer = syncServer{t, func(t *testing.T, conn net.Conn) {
		if path := readSyncRequest(t, conn, syncproto.Packet_RECV_V2); path != "/sdcard/test.txt" {
			t.Errorf("unexpected path %q", path)
		}
		var req syncproto.SyncRecv2
		var id [4]byte
		if _, err := io.ReadFull(conn, id[:]); err != nil {
			t.Errorf("read recv2 id: %v", err)
			return
		}
		if err := binary.Read(conn, binary.LittleEndian, &req); err != nil {
			t.Errorf("read recv2 request: %v", err)
			return
		}
		if act, exp := req.Flags, syncproto.SyncFlag_Zstd; act != exp {
			t.Errorf("expected flags %#x, got %#x", exp, act)
		}

		var compressed bytes.Buffer
		enc, err := zstd.NewWriter(&compressed)
		if err != nil {
			t.Errorf("new zstd writer: %v", err)
			return
		}
		if _, err := enc.Write([]byte(payload)); err != nil {
			t.Errorf("compress data: %v", err)
			return
		}
		if err := enc.Close(); err != nil {
			t.Errorf("close zstd writer: %v", err)
			return
		}
		for compressed.Len() > 0 {
			chunk := compressed.Next(syncproto.RecvDataMax)
			writeFrame(t, conn, syncproto.Packet_DATA, uint32(len(chunk)), chunk)
		}
		writeFrame(t, conn, syncproto.Packet_DONE, 0, nil)
	}}

	var got bytes.Buffer
	c := &Client{Server: srv}
	if err := c.Recv(t.Context(), "/sdcard/test.txt", &got, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.String() != payload {
		t.Error("decompressed data does not match source")
	}
}
