package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davidhora/notula/internal/logger"
)

const (
	deepgramWSURL   = "wss://api.deepgram.com/v1/listen"
	deepgramRESTURL = "https://api.deepgram.com/v1/listen"
	deepgramModel   = "nova-3"
)

// Deepgram is the cloud streaming backend.
type Deepgram struct {
	apiKey     string
	httpClient *http.Client
	log        *logger.Logger
}

// NewDeepgram builds the cloud backend. The key is validated lazily on the
// first connection; an empty key fails fast with ErrNotConfigured.
func NewDeepgram(apiKey string, httpClient *http.Client, log *logger.Logger) *Deepgram {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Deepgram{
		apiKey:     apiKey,
		httpClient: httpClient,
		log:        log.Component("stt.deepgram"),
	}
}

func (d *Deepgram) Name() string { return "deepgram" }

// Ready reports whether credentials are present.
func (d *Deepgram) Ready() bool { return d.apiKey != "" }

func (d *Deepgram) listenURL(opts StreamOptions) string {
	q := url.Values{}
	q.Set("model", deepgramModel)
	lang := opts.Language
	if lang == "" {
		lang = MultiLanguage
	}
	q.Set("language", lang)
	q.Set("encoding", opts.Encoding)
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if opts.Diarize {
		q.Set("diarize", "true")
	}
	if opts.InterimResults {
		q.Set("interim_results", "true")
	}
	if opts.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(opts.UtteranceEndMs))
	}
	if opts.Endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(opts.Endpointing))
	}
	for _, k := range opts.Keyterms {
		q.Add("keyterm", k)
	}
	return deepgramWSURL + "?" + q.Encode()
}

// OpenStream dials the persistent listen websocket and starts the read
// loop.
func (d *Deepgram) OpenStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	if d.apiKey == "" {
		return nil, ErrNotConfigured
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.listenURL(opts), headers)
	if err != nil {
		return nil, &ConnectionError{Backend: "deepgram", Err: err}
	}

	s := &deepgramStream{
		conn:   conn,
		log:    d.log,
		events: make(chan Event, 100),
		errs:   make(chan error, 10),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

// deepgramStream is one live listen connection.
type deepgramStream struct {
	conn      *websocket.Conn
	log       *logger.Logger
	events    chan Event
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex // guards conn writes
	wg        sync.WaitGroup
}

func (s *deepgramStream) Send(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return fmt.Errorf("stream closed")
	default:
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return &ConnectionError{Backend: "deepgram", Err: err}
	}
	return nil
}

// Keepalive sends the documented no-op control message.
func (s *deepgramStream) Keepalive(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return fmt.Errorf("stream closed")
	default:
	}
	msg := []byte(`{"type": "KeepAlive"}`)
	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return &ConnectionError{Backend: "deepgram", Err: err}
	}
	return nil
}

// Flush is a no-op: Deepgram holds no client-side accumulate buffer.
func (s *deepgramStream) Flush(ctx context.Context) error { return nil }

func (s *deepgramStream) Events() <-chan Event { return s.events }

func (s *deepgramStream) Errors() <-chan error { return s.errs }

func (s *deepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "CloseStream"}`))
		s.mu.Unlock()

		err = s.conn.Close()

		s.wg.Wait()
		close(s.events)
		close(s.errs)
	})
	return err
}

func (s *deepgramStream) readLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			case s.errs <- &ConnectionError{Backend: "deepgram", Err: err}:
			default:
			}
			return
		}

		ev, perr := parseDeepgramMessage(msg)
		if perr != nil {
			// Malformed message: log and skip, keep the connection.
			s.log.WithError(perr).Warn("skipping unparseable message")
			continue
		}
		if ev == nil {
			continue
		}

		select {
		case <-s.done:
			return
		case s.events <- *ev:
		}
	}
}

// deepgramResponse mirrors the listen websocket wire format.
type deepgramResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word           string  `json:"word"`
				PunctuatedWord string  `json:"punctuated_word"`
				Start          float64 `json:"start"`
				End            float64 `json:"end"`
				Confidence     float64 `json:"confidence"`
				Speaker        *int    `json:"speaker"`
			} `json:"words"`
			Languages []string `json:"languages"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

// parseDeepgramMessage converts one wire message into a normalized Event.
// Returns (nil, nil) for messages that carry nothing worth surfacing.
func parseDeepgramMessage(msg []byte) (*Event, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		return nil, &ProtocolError{Backend: "deepgram", Detail: err.Error()}
	}

	switch resp.Type {
	case "Results":
		ev := Event{Type: EventResults, IsFinal: resp.IsFinal, SpeechFinal: resp.SpeechFinal}
		if len(resp.Channel.Alternatives) > 0 {
			alt := resp.Channel.Alternatives[0]
			ev.Text = alt.Transcript
			ev.Confidence = alt.Confidence
			if len(alt.Languages) > 0 {
				ev.Language = alt.Languages[0]
			}
			for _, w := range alt.Words {
				text := w.PunctuatedWord
				if text == "" {
					text = w.Word
				}
				ev.Words = append(ev.Words, Word{
					Text:       text,
					Start:      w.Start,
					End:        w.End,
					Confidence: w.Confidence,
					Speaker:    w.Speaker,
				})
			}
		}
		// Empty interim with no boundary signal carries nothing.
		if ev.Text == "" && !ev.IsFinal && !ev.SpeechFinal {
			return nil, nil
		}
		return &ev, nil

	case "UtteranceEnd":
		return &Event{Type: EventUtteranceEnd}, nil
	case "SpeechStarted":
		return &Event{Type: EventSpeechStarted}, nil
	case "Metadata":
		return &Event{Type: EventMetadata}, nil
	case "Warning":
		return &Event{Type: EventWarning, Text: resp.Description}, nil
	case "Error":
		detail := resp.Description
		if detail == "" {
			detail = resp.Message
		}
		return &Event{Type: EventError, Err: &ProtocolError{Backend: "deepgram", Detail: detail}}, nil
	default:
		return nil, &ProtocolError{Backend: "deepgram", Detail: "unknown message type " + resp.Type}
	}
}

// deepgramPrerecorded mirrors the REST response for whole-file requests.
type deepgramPrerecorded struct {
	Results struct {
		Utterances []struct {
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Speaker    *int    `json:"speaker"`
		} `json:"utterances"`
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word           string  `json:"word"`
					PunctuatedWord string  `json:"punctuated_word"`
					Start          float64 `json:"start"`
					End            float64 `json:"end"`
					Confidence     float64 `json:"confidence"`
					Speaker        *int    `json:"speaker"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// TranscribeFile posts a whole WAV payload to the pre-recorded endpoint.
// Utterances are preferred; without them the first alternative's word
// timeline is grouped into segments at speaker-change boundaries.
func (d *Deepgram) TranscribeFile(ctx context.Context, path string, language string) ([]Segment, error) {
	if d.apiKey == "" {
		return nil, ErrNotConfigured
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}

	q := url.Values{}
	q.Set("model", deepgramModel)
	if language == "" {
		language = MultiLanguage
	}
	q.Set("language", language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("diarize", "true")
	q.Set("utterances", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, deepgramRESTURL+"?"+q.Encode(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectionError{Backend: "deepgram", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ConnectionError{
			Backend: "deepgram",
			Err:     fmt.Errorf("prerecorded request: status %d: %s", resp.StatusCode, body),
		}
	}

	var parsed deepgramPrerecorded
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ProtocolError{Backend: "deepgram", Detail: err.Error()}
	}

	if len(parsed.Results.Utterances) > 0 {
		segs := make([]Segment, 0, len(parsed.Results.Utterances))
		for _, u := range parsed.Results.Utterances {
			segs = append(segs, Segment{
				Start:      u.Start,
				End:        u.End,
				Text:       u.Transcript,
				Confidence: u.Confidence,
				Speaker:    u.Speaker,
			})
		}
		return segs, nil
	}

	// Fallback: a single alternative with word timings, grouped by speaker
	// change.
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return nil, nil
	}
	alt := parsed.Results.Channels[0].Alternatives[0]
	words := make([]Word, 0, len(alt.Words))
	for _, w := range alt.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		words = append(words, Word{
			Text:       text,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Confidence,
			Speaker:    w.Speaker,
		})
	}
	return GroupWordsBySpeaker(words, alt.Confidence), nil
}

// GroupWordsBySpeaker folds a word timeline into segments, breaking
// wherever the diarization speaker changes. Words without a speaker stay
// attached to the running segment.
func GroupWordsBySpeaker(words []Word, confidence float64) []Segment {
	if len(words) == 0 {
		return nil
	}

	var segs []Segment
	current := Segment{
		Start:      words[0].Start,
		Confidence: confidence,
		Speaker:    words[0].Speaker,
	}
	var text []byte
	flush := func(end float64) {
		current.End = end
		current.Text = string(bytes.TrimSpace(text))
		if current.Text != "" {
			segs = append(segs, current)
		}
	}

	for i, w := range words {
		if w.Speaker != nil && current.Speaker != nil && *w.Speaker != *current.Speaker {
			flush(words[i-1].End)
			current = Segment{Start: w.Start, Confidence: confidence, Speaker: w.Speaker}
			text = nil
		} else if w.Speaker != nil && current.Speaker == nil {
			current.Speaker = w.Speaker
		}
		if len(text) > 0 {
			text = append(text, ' ')
		}
		text = append(text, w.Text...)
		current.Words = append(current.Words, w)
	}
	flush(words[len(words)-1].End)
	return segs
}
