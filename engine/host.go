package engine

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmsandbox "github.com/wippyai/wasm-sandbox"
)

// HostModule is the import module name of the host bindings.
const HostModule = "sandbox"

// Status codes returned by sensor_read.
const (
	SensorOK          uint32 = 0
	SensorUnknown     uint32 = 1
	SensorUnavailable uint32 = 2
)

// maxLogBytes caps a single guest log line.
const maxLogBytes = 1024

// maxSleepMillis keeps sleep_ms from overflowing time.Duration.
const maxSleepMillis = int64(math.MaxInt64 / time.Millisecond)

func (e *Engine) instantiateHost(ctx context.Context) error {
	_, err := e.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().WithFunc(e.hostLog).Export("log").
		NewFunctionBuilder().WithFunc(e.hostNow).Export("now_ms").
		NewFunctionBuilder().WithFunc(e.hostSleep).Export("sleep_ms").
		NewFunctionBuilder().WithFunc(e.hostRandom).Export("random_u32").
		NewFunctionBuilder().WithFunc(e.hostSensor).Export("sensor_read").
		Instantiate(ctx)
	return err
}

// log(ptr, len)
func (e *Engine) hostLog(ctx context.Context, m api.Module, ptr, size uint32) {
	if size > maxLogBytes {
		size = maxLogBytes
	}
	mem := m.Memory()
	if mem == nil {
		Logger().Warn("guest log without memory",
			zap.String("capsule", wasmsandbox.NameFrom(ctx)))
		return
	}
	msg, ok := mem.Read(ptr, size)
	if !ok {
		Logger().Warn("guest log outside memory",
			zap.String("capsule", wasmsandbox.NameFrom(ctx)),
			zap.Uint32("ptr", ptr),
			zap.Uint32("len", size))
		return
	}
	Logger().Info(string(msg), zap.String("capsule", wasmsandbox.NameFrom(ctx)))
}

// now_ms() -> i64
func (e *Engine) hostNow(context.Context) int64 {
	return e.cfg.Clock().UnixMilli()
}

// sleep_ms(i64); returns early when the run is cancelled.
func (e *Engine) hostSleep(ctx context.Context, ms int64) {
	if ms <= 0 {
		return
	}
	ms = min(ms, maxSleepMillis)
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// random_u32() -> i32
func (e *Engine) hostRandom(context.Context) uint32 {
	var b [4]byte
	if _, err := e.cfg.Rand.Read(b[:]); err != nil {
		Logger().Warn("random source failed", zap.Error(err))
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}

// sensor_read(category, out) -> status. On success writes the i32 value
// at out and the i8 decimal scaling at out+4.
func (e *Engine) hostSensor(ctx context.Context, m api.Module, category, out uint32) uint32 {
	cat := Category(category)
	if !cat.Valid() {
		return SensorUnknown
	}
	if e.cfg.Sensors == nil {
		return SensorUnavailable
	}
	reading, err := e.cfg.Sensors.Read(ctx, cat)
	if err != nil {
		Logger().Debug("sensor read failed",
			zap.String("capsule", wasmsandbox.NameFrom(ctx)),
			zap.Stringer("category", cat),
			zap.Error(err))
		return SensorUnavailable
	}
	mem := m.Memory()
	if mem == nil ||
		!mem.WriteUint32Le(out, uint32(reading.Value)) ||
		!mem.WriteByte(out+4, byte(reading.Scaling)) {
		return SensorUnavailable
	}
	return SensorOK
}
