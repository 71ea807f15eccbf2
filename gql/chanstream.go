package gql

import (
	"context"
	"io"
	"sync"
)

// ChanStream adapts a receive channel of results into a ResultStream. The
// producer signals exhaustion by closing the channel.
type ChanStream struct {
	results <-chan *Result
	cancel  context.CancelFunc
	once    sync.Once
}

// NewChanStream returns a stream reading from results. cancel, if not nil, is
// called on Close to tell the producer to stop.
func NewChanStream(results <-chan *Result, cancel context.CancelFunc) *ChanStream {
	return &ChanStream{results: results, cancel: cancel}
}

// Next implements ResultStream.
func (s *ChanStream) Next(ctx context.Context) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res, ok := <-s.results:
		if !ok {
			return nil, io.EOF
		}
		return res, nil
	}
}

// Close cancels the producer and drains whatever it still emits so that a
// producer blocked on a send can exit.
func (s *ChanStream) Close() error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		go func() {
			for range s.results {
			}
		}()
	})
	return nil
}
