package supervisor

import (
	"bufio"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/plugforge/plugforge/pkg/protocol"
)

// maxLineSize bounds a single stdout line. Plugin results are JSON values,
// not bulk payloads; anything larger indicates a runaway child.
const maxLineSize = 4 * 1024 * 1024

// writerPump is the sole owner of child stdin. It serialises outbox lines
// onto the wire; a single writer means request order on the wire is
// exactly enqueue order. Exits on outbox close (clean stop) or on the first write
// failure, closing stdin either way so the child observes EOF.
func (s *Supervisor) writerPump(stdin io.WriteCloser, ob *outbox, wg *sync.WaitGroup) {
	defer wg.Done()
	defer stdin.Close()

	log := s.log.Named("writer")
	w := bufio.NewWriter(stdin)
	for {
		line, ok := ob.Dequeue()
		if !ok {
			log.Debug("writer pump stopping")
			return
		}
		if _, err := w.Write(line); err != nil {
			log.Warn("stdin write failed", zap.Error(err))
			return
		}
		if err := w.WriteByte('\n'); err != nil {
			log.Warn("stdin write failed", zap.Error(err))
			return
		}
		if err := w.Flush(); err != nil {
			log.Warn("stdin flush failed", zap.Error(err))
			return
		}
	}
}

// readerPump parses complete lines from child stdout until EOF and routes
// responses to their pending sinks. Malformed lines and orphan responses
// are logged (throttled) and skipped; the wire stays valid either way.
//
// EOF is the crash signal: unless a shutdown is in progress, the monitor is
// marked crashed; in all cases every remaining pending entry is failed so
// no caller is left hanging.
func (s *Supervisor) readerPump(stdout io.ReadCloser, wg *sync.WaitGroup) {
	defer wg.Done()
	defer stdout.Close()

	log := s.log.Named("reader")
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, err := protocol.DecodeResponse(line)
		if err != nil {
			if s.logLimiter.Allow() {
				log.Warn("discarding unparseable stdout line",
					zap.Error(err), zap.ByteString("line", truncate(line, 256)))
			}
			continue
		}
		if resp.ID == nil {
			// The child could not even read a request id; nobody is waiting.
			if s.logLimiter.Allow() {
				log.Warn("response without id", zap.ByteString("line", truncate(line, 256)))
			}
			continue
		}

		ch, ok := s.pending.take(*resp.ID)
		if !ok {
			// Likely a late arrival after the caller timed out.
			if s.logLimiter.Allow() {
				log.Debug("orphan response", zap.Uint64("id", *resp.ID))
			}
			continue
		}
		ch <- outcome{resp: resp}
	}

	if err := scanner.Err(); err != nil {
		log.Warn("stdout read failed", zap.Error(err))
	}

	if !s.shuttingDown.Load() {
		s.monitor.MarkCrashed("subprocess stdout closed unexpectedly")
	}
	if n := s.pending.failAll(errCrashed()); n > 0 {
		log.Warn("cancelled in-flight requests after stdout EOF", zap.Int("count", n))
	}
	log.Debug("reader pump stopped")
}

// stderrPump drains child stderr, re-emitting each line at a severity
// inferred from embedded marker tokens. It has no protocol role and never
// influences request semantics.
func (s *Supervisor) stderrPump(stderr io.ReadCloser, wg *sync.WaitGroup) {
	defer wg.Done()
	defer stderr.Close()

	log := s.log.Named("child")
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		switch {
		case strings.Contains(line, "ERROR"):
			log.Error(line)
		case strings.Contains(line, "WARNING"):
			log.Warn(line)
		case strings.Contains(line, "DEBUG"):
			log.Debug(line)
		default:
			log.Info(line)
		}
	}
	log.Debug("stderr pump stopped")
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
