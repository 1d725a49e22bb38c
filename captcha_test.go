package siteguard

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTestCaptcha(clock *testClock) (*CaptchaService, *InMemoryTTLStore) {
	store := NewInMemoryTTLStore()
	store.SetClock(clock.Now)
	svc := NewCaptchaService(store, 10*time.Minute, NopLogger{}, nil)
	svc.now = clock.Now
	return svc, store
}

func TestCaptchaGenerateAndVerify(t *testing.T) {
	svc, _ := newTestCaptcha(newTestClock())

	challenge, err := svc.Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if challenge.Token == "" || challenge.Question == "" {
		t.Fatalf("incomplete challenge: %+v", challenge)
	}
	if !svc.Verify(challenge.Token, strconv.Itoa(challenge.Answer)) {
		t.Fatalf("correct answer must verify")
	}
}

func TestCaptchaSingleUse(t *testing.T) {
	svc, _ := newTestCaptcha(newTestClock())

	challenge, _ := svc.Generate()
	answer := strconv.Itoa(challenge.Answer)
	if !svc.Verify(challenge.Token, answer) {
		t.Fatalf("first verification must pass")
	}
	if svc.Verify(challenge.Token, answer) {
		t.Fatalf("token must not be replayable")
	}
}

func TestCaptchaWrongAnswerConsumesToken(t *testing.T) {
	svc, _ := newTestCaptcha(newTestClock())

	challenge, _ := svc.Generate()
	if svc.Verify(challenge.Token, "999") {
		t.Fatalf("wrong answer must fail")
	}
	// The failed attempt burned the token: even the right answer is now
	// rejected.
	if svc.Verify(challenge.Token, strconv.Itoa(challenge.Answer)) {
		t.Fatalf("token must be consumed by the failed attempt")
	}
}

func TestCaptchaExpiry(t *testing.T) {
	clock := newTestClock()
	svc, _ := newTestCaptcha(clock)

	challenge, _ := svc.Generate()
	clock.Advance(11 * time.Minute)
	if svc.Verify(challenge.Token, strconv.Itoa(challenge.Answer)) {
		t.Fatalf("expired challenge must fail")
	}
}

func TestCaptchaGarbageInput(t *testing.T) {
	svc, _ := newTestCaptcha(newTestClock())

	if svc.Verify("", "5") {
		t.Fatalf("empty token must fail")
	}
	if svc.Verify("no-such-token", "5") {
		t.Fatalf("unknown token must fail")
	}
	challenge, _ := svc.Generate()
	if svc.Verify(challenge.Token, "not a number") {
		t.Fatalf("unparseable answer must fail")
	}
}

func TestCaptchaSubtractionNeverNegative(t *testing.T) {
	svc, _ := newTestCaptcha(newTestClock())
	// Force a - b with a < b before the swap.
	calls := 0
	svc.randInt = func(n int) int {
		calls++
		switch calls {
		case 1:
			return 1 // a = 2
		case 2:
			return 7 // b = 8
		default:
			return 1 // subtraction branch
		}
	}
	challenge, err := svc.Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if challenge.Answer < 0 {
		t.Fatalf("subtraction answer must not be negative: %+v", challenge)
	}
}

func TestCaptchaFragmentFields(t *testing.T) {
	svc, _ := newTestCaptcha(newTestClock())
	challenge := CaptchaChallenge{Token: "tok-1", Question: "What is 2 + 2?"}
	fragment := svc.Fragment(challenge)

	if !strings.Contains(fragment, CaptchaTokenField) || !strings.Contains(fragment, CaptchaAnswerField) {
		t.Fatalf("fragment missing field names: %s", fragment)
	}
	if !strings.Contains(fragment, "What is 2 + 2?") {
		t.Fatalf("fragment missing question: %s", fragment)
	}
	if !strings.Contains(fragment, `value="tok-1"`) {
		t.Fatalf("fragment missing token value: %s", fragment)
	}
}

func TestCaptchaInjectBeforeSubmit(t *testing.T) {
	svc, _ := newTestCaptcha(newTestClock())
	challenge := CaptchaChallenge{Token: "tok", Question: "q"}

	form := `<form><input type="text" name="a"><input type="submit" value="Go"></form>`
	out := svc.InjectField(form, challenge)
	captchaIdx := strings.Index(out, "sg-captcha")
	submitIdx := strings.Index(out, `<input type="submit"`)
	if captchaIdx < 0 || submitIdx < 0 || captchaIdx > submitIdx {
		t.Fatalf("fragment must precede the submit control: %s", out)
	}
}

func TestCaptchaInjectFallbacks(t *testing.T) {
	svc, _ := newTestCaptcha(newTestClock())
	challenge := CaptchaChallenge{Token: "tok", Question: "q"}

	noSubmit := `<form><input type="text" name="a"></form>`
	out := svc.InjectField(noSubmit, challenge)
	captchaIdx := strings.Index(out, "sg-captcha")
	closeIdx := strings.Index(out, "</form>")
	if captchaIdx < 0 || captchaIdx > closeIdx {
		t.Fatalf("fragment must land before the closing tag: %s", out)
	}

	bare := `<div>not a form</div>`
	out = svc.InjectField(bare, challenge)
	if !strings.Contains(out, "sg-captcha") {
		t.Fatalf("fragment must be appended to bare markup: %s", out)
	}
}
