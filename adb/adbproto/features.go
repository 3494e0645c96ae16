package adbproto

// Feature is an optional feature advertised by a transport or host server.
type Feature string

// Feature names as of adb version 41.
//
// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/transport.cpp;l=81-105;drc=2d3e62c2af54a3e8f8803ea10492e63b8dfe709f
const (
	FeatureShell2              Feature = "shell_v2"
	FeatureCmd                 Feature = "cmd"
	FeatureStat2               Feature = "stat_v2"
	FeatureLs2                 Feature = "ls_v2"
	FeatureFixedPushMkdir      Feature = "fixed_push_mkdir"
	FeatureAbb                 Feature = "abb"
	FeatureAbbExec             Feature = "abb_exec"
	FeatureSendRecv2           Feature = "sendrecv_v2"
	FeatureSendRecv2Brotli     Feature = "sendrecv_v2_brotli"
	FeatureSendRecv2LZ4        Feature = "sendrecv_v2_lz4"
	FeatureSendRecv2Zstd       Feature = "sendrecv_v2_zstd"
	FeatureSendRecv2DryRunSend Feature = "sendrecv_v2_dry_run_send"
	FeatureDelayedAck          Feature = "delayed_ack"
)
