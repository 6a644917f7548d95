package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pgcdha001/pgcdha-sub002/types"
	"github.com/pgcdha001/pgcdha-sub002/utils"
)

type ZapLoggerConfig struct {
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
	File   string `yaml:"file" json:"file"`
	Level  string `yaml:"level" json:"level"`
}

func NewLogger(config *types.LoggerConfig) (types.Logger, error) {
	if config == nil {
		return nil, types.ErrLoggerConfigInvalid
	}

	switch config.Type {
	case "", "default", "zap":
	case "nop":
		return NewNop(), nil
	default:
		return nil, types.Errorf(types.ErrLoggerTypeUnknown, "logger type: %s", config.Type)
	}

	lConfig := &ZapLoggerConfig{
		Format: "console",
		Output: "stdout",
		Level:  config.Level,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, lConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal logger config")
		}
		if lConfig.Level == "" {
			lConfig.Level = config.Level
		}
	}

	logger, err := buildZapLogger(lConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	l := NewZapWrapper(logger)

	l.Debug("Logger initialized",
		zap.String("level", lConfig.Level),
		zap.String("format", lConfig.Format),
		zap.String("output", lConfig.Output),
	)

	return l, nil
}

// NewNop discards everything. Used by tests and the one-shot CLI commands.
func NewNop() types.Logger {
	return NewZapWrapper(zap.NewNop())
}

func buildZapLogger(config *ZapLoggerConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if config.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.EncoderConfig.EncodeCaller = ideCallerEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig.DisableStacktrace = true
	zapConfig.Level = zap.NewAtomicLevelAt(parseLogLevel(config.Level))

	switch config.Output {
	case "stderr":
		zapConfig.OutputPaths = []string{"stderr"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	case "file":
		if config.File == "" {
			return nil, types.ErrLogFileIsEmpty
		}
		if err := ensureLogDir(config.File); err != nil {
			return nil, err
		}
		zapConfig.OutputPaths = []string{config.File}
		zapConfig.ErrorOutputPaths = []string{config.File}
	default:
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	}

	return zapConfig.Build(zap.AddCaller())
}

func ideCallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(fmt.Sprintf("%s:%d", caller.File, caller.Line))
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func ensureLogDir(logFile string) error {
	dir := filepath.Dir(logFile)
	if dir == "." || dir == "" {
		return nil
	}
	return types.WrapError(os.MkdirAll(dir, 0755), "access denied to log directory")
}

type ZapWrapper struct {
	Logger *zap.Logger
}

func NewZapWrapper(logger *zap.Logger) *ZapWrapper {
	return &ZapWrapper{Logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (z *ZapWrapper) Error(msg string, fields ...zap.Field) {
	z.Logger.Error(msg, fields...)
}

func (z *ZapWrapper) Warn(msg string, fields ...zap.Field) {
	z.Logger.Warn(msg, fields...)
}

func (z *ZapWrapper) Info(msg string, fields ...zap.Field) {
	z.Logger.Info(msg, fields...)
}

func (z *ZapWrapper) Debug(msg string, fields ...zap.Field) {
	z.Logger.Debug(msg, fields...)
}

func (z *ZapWrapper) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	z.Logger.Log(lvl, msg, fields...)
}

func (z *ZapWrapper) Sync() error {
	return z.Logger.Sync()
}

// ErrorWithErrStack logs the root cause and, for errors built with
// github.com/pkg/errors, the innermost recorded stack.
func (z *ZapWrapper) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	if err == nil {
		z.Logger.Error(msg, fields...)
		return
	}

	allFields := make([]zap.Field, 0, len(fields)+2)
	allFields = append(allFields, zap.String("error", err.Error()))
	if cause := errors.Cause(err); cause != err {
		allFields = append(allFields, zap.String("cause", cause.Error()))
	}
	if stack := extractStackFromError(err); stack != "" {
		allFields = append(allFields, zap.String("stack", stack))
	}
	allFields = append(allFields, fields...)

	z.Logger.Error(msg, allFields...)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func extractStackFromError(err error) string {
	var stack string
	for err != nil {
		if st, ok := err.(stackTracer); ok {
			stack = cleanStack(fmt.Sprintf("%+v", st.StackTrace()))
		}
		next, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = next.Unwrap()
	}
	return stack
}

func cleanStack(stack string) string {
	lines := strings.Split(stack, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" ||
			strings.Contains(line, "runtime.goexit") ||
			strings.Contains(line, "asm_amd64.s:") ||
			strings.Contains(line, "asm_arm64.s:") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
