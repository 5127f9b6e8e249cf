package wire

import (
	"bytes"
	"io"
	"regexp"
	"strconv"
	"strings"

	"runbox/internal/remote/result"
	appErr "runbox/pkg/errors"

	"github.com/klauspost/compress/gzip"
)

// delimiterLen is the size of the server-generated separator that
// prefixes every reply.
const delimiterLen = 16

// metricsPattern matches the diagnostics segment: optional free-form
// debug text (captured), then the literal metric lines, anchored to the
// end of the segment. Anything else is protocol drift.
var metricsPattern = regexp.MustCompile(
	`(?s)\A(.*?)\n?` +
		`Real time: (\d+(?:\.\d+)?) s\n` +
		`User time: (\d+(?:\.\d+)?) s\n` +
		`Sys\. time: (\d+(?:\.\d+)?) s\n` +
		`CPU share: (\d+(?:\.\d+)?) %\n` +
		`Exit code: (-?\d+)\s*\z`)

// DecodeResult parses a gzip-compressed, delimiter-framed reply into a
// RunResult. The first 16 decompressed bytes are the delimiter; the
// remainder splits into the stdout segment and the diagnostics segment.
// Any grammar deviation fails with no partial result.
func DecodeResult(compressed []byte) (result.RunResult, error) {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return result.RunResult{}, appErr.Wrap(err, appErr.ReplyNotGzip)
	}
	defer zr.Close()

	text, err := io.ReadAll(zr)
	if err != nil {
		return result.RunResult{}, appErr.Wrap(err, appErr.ReplyNotGzip)
	}
	if len(text) < delimiterLen {
		return result.RunResult{}, appErr.Newf(appErr.ReplyTruncated, "reply is %d bytes, the delimiter alone needs %d", len(text), delimiterLen)
	}

	delimiter := string(text[:delimiterLen])
	segments := strings.Split(string(text[delimiterLen:]), delimiter)
	if len(segments) < 2 {
		return result.RunResult{}, appErr.Newf(appErr.ReplyGrammar, "reply has %d segment(s), need stdout and diagnostics", len(segments))
	}

	debug, metrics, err := parseDiagnostics(segments[1])
	if err != nil {
		return result.RunResult{}, err
	}

	metrics.Output = segments[0]
	if metrics.Output == "" {
		metrics.Output = debug
	}
	return metrics, nil
}

// parseDiagnostics applies the metrics grammar to one segment and
// returns the captured debug text plus a result with the numeric
// fields set.
func parseDiagnostics(segment string) (string, result.RunResult, error) {
	m := metricsPattern.FindStringSubmatch(segment)
	if m == nil {
		return "", result.RunResult{}, appErr.New(appErr.ReplyGrammar)
	}

	realTime, errReal := strconv.ParseFloat(m[2], 64)
	userTime, errUser := strconv.ParseFloat(m[3], 64)
	sysTime, errSys := strconv.ParseFloat(m[4], 64)
	cpuShare, errCPU := strconv.ParseFloat(m[5], 64)
	exitCode, errExit := strconv.Atoi(m[6])
	for _, err := range []error{errReal, errUser, errSys, errCPU, errExit} {
		if err != nil {
			return "", result.RunResult{}, appErr.Wrap(err, appErr.ReplyGrammar)
		}
	}

	return m[1], result.RunResult{
		RealTime: realTime,
		UserTime: userTime,
		SysTime:  sysTime,
		CPUShare: cpuShare,
		ExitCode: exitCode,
	}, nil
}
