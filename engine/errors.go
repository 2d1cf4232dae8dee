package engine

import (
	"errors"
	"fmt"

	"depthbook-go/gateway"
)

// ErrStale 在约定时限内没有收到任何流消息，簿内容已不可信。
var ErrStale = errors.New("no stream message within staleness bound")

// SequenceGapError 流消息与已应用序列不连续，漏掉了更新，
// 只能整周期重建。
type SequenceGapError struct {
	Expected int64
	Got      int64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("sequence gap: expected first update id %d, got %d", e.Expected, e.Got)
}

// FaultKind 一次同步周期结束的原因，用作指标与告警标签。
type FaultKind string

const (
	FaultConnect  FaultKind = "connect"
	FaultAnchor   FaultKind = "anchor"
	FaultSnapshot FaultKind = "snapshot"
	FaultStream   FaultKind = "stream"
	FaultGap      FaultKind = "sequence_gap"
	FaultStale    FaultKind = "stale"
	ReasonClosed  FaultKind = "closed"
	FaultUnknown  FaultKind = "error"
)

// faultError 给周期内的底层错误打上阶段标签。
type faultError struct {
	kind FaultKind
	err  error
}

func (e *faultError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *faultError) Unwrap() error { return e.err }

func fault(kind FaultKind, err error) error {
	return &faultError{kind: kind, err: err}
}

// Classify 把周期结束错误映射为原因标签。
func Classify(err error) FaultKind {
	if err == nil {
		return FaultUnknown
	}
	// 阶段标签优先：锚点阶段的对端关闭算 anchor 失败，不算正常收尾
	var fe *faultError
	if errors.As(err, &fe) {
		return fe.kind
	}
	if errors.Is(err, gateway.ErrStreamEnded) {
		return ReasonClosed
	}
	if errors.Is(err, ErrStale) {
		return FaultStale
	}
	var gap *SequenceGapError
	if errors.As(err, &gap) {
		return FaultGap
	}
	return FaultUnknown
}
