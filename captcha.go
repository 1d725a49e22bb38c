package siteguard

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const captchaKeyPrefix = "captcha:"

// Form field names of the CAPTCHA fragment. Hosts embedding the fragment
// read the answer and token back under these names.
const (
	CaptchaTokenField  = "sg_captcha_token"
	CaptchaAnswerField = "sg_captcha_answer"
)

// CaptchaService issues and verifies the arithmetic challenges gating
// protected submissions while under-attack mode is active.
type CaptchaService struct {
	store   TTLStore
	ttl     time.Duration
	logger  Logger
	metrics MetricsCollector
	now     func() time.Time
	randInt func(n int) int
}

func NewCaptchaService(store TTLStore, ttl time.Duration, logger Logger, metrics MetricsCollector) *CaptchaService {
	return &CaptchaService{
		store:   store,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		randInt: rand.Intn,
	}
}

// Generate creates a simple arithmetic challenge and stores it under a fresh
// token for the configured TTL.
func (s *CaptchaService) Generate() (CaptchaChallenge, error) {
	a := s.randInt(9) + 1
	b := s.randInt(9) + 1
	var (
		question string
		answer   int
	)
	switch s.randInt(3) {
	case 0:
		question = fmt.Sprintf("What is %d + %d?", a, b)
		answer = a + b
	case 1:
		if a < b {
			a, b = b, a
		}
		question = fmt.Sprintf("What is %d - %d?", a, b)
		answer = a - b
	default:
		question = fmt.Sprintf("What is %d × %d?", a, b)
		answer = a * b
	}

	challenge := CaptchaChallenge{
		Token:     uuid.NewString(),
		Question:  question,
		Answer:    answer,
		CreatedAt: s.now(),
	}
	data, _ := json.Marshal(challenge)
	if err := s.store.Set(captchaKeyPrefix+challenge.Token, data, s.ttl); err != nil {
		return CaptchaChallenge{}, fmt.Errorf("failed to store captcha challenge: %v", err)
	}
	if s.metrics != nil {
		s.metrics.IncrementCounter("captcha_generated_total", nil)
	}
	return challenge, nil
}

// Verify consumes the challenge behind token and checks the answer. The
// challenge is deleted on first lookup, successful or not, so a token can
// never be replayed. Missing, expired or malformed input and store errors
// all verify false: the CAPTCHA gate fails closed because a false negative
// only inconveniences one submitter.
func (s *CaptchaService) Verify(token, submittedAnswer string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	key := captchaKeyPrefix + token
	data, ok, err := s.store.Get(key)
	if err != nil || !ok {
		return false
	}
	// Single use: gone before the answer is even parsed.
	_ = s.store.Delete(key)

	var challenge CaptchaChallenge
	if json.Unmarshal(data, &challenge) != nil {
		return false
	}
	answer, err := strconv.Atoi(strings.TrimSpace(submittedAnswer))
	if err != nil {
		return false
	}
	verified := answer == challenge.Answer
	if s.metrics != nil {
		result := "fail"
		if verified {
			result = "pass"
		}
		s.metrics.IncrementCounter("captcha_verified_total", map[string]string{"result": result})
	}
	return verified
}

// Fragment renders the challenge as one cohesive markup block: question,
// hidden token and answer input. Hosts reuse it verbatim.
func (s *CaptchaService) Fragment(challenge CaptchaChallenge) string {
	var b strings.Builder
	b.WriteString(`<div class="sg-captcha">`)
	b.WriteString(`<label for="` + CaptchaAnswerField + `">` + htmlEscape(challenge.Question) + `</label>`)
	b.WriteString(`<input type="hidden" name="` + CaptchaTokenField + `" value="` + htmlEscape(challenge.Token) + `"/>`)
	b.WriteString(`<input type="text" name="` + CaptchaAnswerField + `" id="` + CaptchaAnswerField + `" autocomplete="off" required/>`)
	b.WriteString(`</div>`)
	return b.String()
}

// InjectField places the CAPTCHA fragment immediately before the form's
// submit control. Forms without a recognizable submit control get the
// fragment before the closing tag instead.
func (s *CaptchaService) InjectField(formHTML string, challenge CaptchaChallenge) string {
	fragment := s.Fragment(challenge)
	for _, marker := range []string{`<input type="submit"`, `<button type="submit"`, `<button`} {
		if idx := strings.Index(formHTML, marker); idx >= 0 {
			return formHTML[:idx] + fragment + formHTML[idx:]
		}
	}
	if idx := strings.LastIndex(formHTML, "</form>"); idx >= 0 {
		return formHTML[:idx] + fragment + formHTML[idx:]
	}
	return formHTML + fragment
}

func htmlEscape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return replacer.Replace(s)
}
