package adbsync

import (
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/tetherkit/tetherkit/adb"
	"github.com/tetherkit/tetherkit/adb/adbproto"
	"github.com/tetherkit/tetherkit/adb/adbproto/syncproto"
)

// CompressionMethod is a sendrecv_v2 stream compression method.
type CompressionMethod string

const (
	compressionMethodNone   CompressionMethod = "" // not exported intentionally
	CompressionMethodBrotli CompressionMethod = "brotli"
	CompressionMethodLZ4    CompressionMethod = "lz4"
	CompressionMethodZstd   CompressionMethod = "zstd"
)

func (m CompressionMethod) syncFlag() uint32 {
	switch m {
	case CompressionMethodBrotli:
		return syncproto.SyncFlag_Brotli
	case CompressionMethodLZ4:
		return syncproto.SyncFlag_LZ4
	case CompressionMethodZstd:
		return syncproto.SyncFlag_Zstd
	default:
		return syncproto.SyncFlag_None
	}
}

func (m CompressionMethod) adbFeature() adbproto.Feature {
	switch m {
	case CompressionMethodBrotli:
		return adbproto.FeatureSendRecv2Brotli
	case CompressionMethodLZ4:
		return adbproto.FeatureSendRecv2LZ4
	case CompressionMethodZstd:
		return adbproto.FeatureSendRecv2Zstd
	default:
		return ""
	}
}

// CompressionConfig restricts the compression methods used for transfers.
type CompressionConfig struct {
	// Methods, if not nil, sets the allowed methods in preferred order. An
	// empty slice disables compression. A nil slice uses the default order.
	// Only methods advertised by the server are used.
	Methods []CompressionMethod
}

// DefaultCompressionConfig prefers zstd, then lz4, then brotli.
var DefaultCompressionConfig = &CompressionConfig{}

var defaultMethods = []CompressionMethod{
	CompressionMethodZstd,
	CompressionMethodLZ4,
	CompressionMethodBrotli,
}

func (c *CompressionConfig) negotiate(d adb.Dialer) CompressionMethod {
	if adb.SupportsFeature(d, adbproto.FeatureSendRecv2) != nil {
		return compressionMethodNone
	}
	if c == nil {
		c = DefaultCompressionConfig
	}
	methods := c.Methods
	if methods == nil {
		methods = defaultMethods
	}
	for _, m := range methods {
		if m == compressionMethodNone || adb.SupportsFeature(d, m.adbFeature()) == nil {
			return m
		}
	}
	return compressionMethodNone
}

func (c *CompressionConfig) compressNegotiate(d adb.Dialer) CompressionMethod {
	return c.negotiate(d)
}

func (c *CompressionConfig) decompressNegotiate(d adb.Dialer) CompressionMethod {
	return c.negotiate(d)
}

func (c *CompressionConfig) compress(method CompressionMethod, w io.Writer) (io.WriteCloser, error) {
	switch method {
	case CompressionMethodBrotli:
		return brotli.NewWriter(w), nil
	case CompressionMethodLZ4:
		return lz4.NewWriter(w), nil
	case CompressionMethodZstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("%w: unsupported compression method %q", errors.ErrUnsupported, method)
	}
}

func (c *CompressionConfig) decompress(method CompressionMethod, r io.Reader) (io.ReadCloser, error) {
	switch method {
	case CompressionMethodBrotli:
		return io.NopCloser(brotli.NewReader(r)), nil
	case CompressionMethodLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CompressionMethodZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(d.IOReadCloser()), nil
	default:
		return nil, fmt.Errorf("%w: unsupported decompression method %q", errors.ErrUnsupported, method)
	}
}
