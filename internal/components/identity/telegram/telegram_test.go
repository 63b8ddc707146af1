package telegram_test

import (
	"context"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/FlowBondTech/flowb-sub000/internal/components/identity"
	"github.com/FlowBondTech/flowb-sub000/internal/components/identity/telegram"
	"github.com/FlowBondTech/flowb-sub000/internal/components/trust"
)

const botToken = "123456:TEST-bot-token"

var now = time.Unix(1_760_000_000, 0)

func newVerifier(t *testing.T) *telegram.Verifier {
	t.Helper()
	v, err := telegram.New(botToken, telegram.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return v
}

// signedInitData builds a payload the way the Telegram client does.
func signedInitData(authDate time.Time, user string) string {
	values := url.Values{}
	values.Set("query_id", "AAHdF6IQAAAAAN0XohDhrOrc")
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	values.Set("user", user)
	values.Set("hash", telegram.Sign(values, botToken))
	return values.Encode()
}

const aliceJSON = `{"id":279058397,"first_name":"Alice","last_name":"Doe","username":"alice","photo_url":"https://t.me/i/userpic/alice.jpg"}`

func TestVerify_ValidPayload(t *testing.T) {
	v := newVerifier(t)

	id, err := v.Verify(context.Background(), identity.Assertion{InitData: signedInitData(now.Add(-time.Hour), aliceJSON)})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if id.Subject != "telegram_279058397" {
		t.Errorf("Subject = %q", id.Subject)
	}
	if id.TelegramID != 279058397 || id.Username != "alice" || id.DisplayName != "Alice Doe" {
		t.Errorf("unexpected identity: %+v", id)
	}
	if id.Platform != identity.PlatformTelegram {
		t.Errorf("Platform = %q", id.Platform)
	}
}

func TestVerify_AnySingleByteMutationFails(t *testing.T) {
	v := newVerifier(t)
	payload := signedInitData(now.Add(-time.Minute), aliceJSON)

	if _, err := v.VerifyInitData(payload); err != nil {
		t.Fatalf("baseline payload rejected: %v", err)
	}

	for i := 0; i < len(payload); i++ {
		mutated := []byte(payload)
		mutated[i] ^= 0x01
		if _, err := v.VerifyInitData(string(mutated)); err == nil {
			t.Fatalf("mutation at byte %d (%q -> %q) was accepted", i, payload[i], mutated[i])
		}
	}
}

func TestVerify_StaleRegardlessOfHash(t *testing.T) {
	v := newVerifier(t)
	stale := now.Add(-25 * time.Hour)

	valid := signedInitData(stale, aliceJSON)
	_, err := v.VerifyInitData(valid)
	if trust.ReasonOf(err) != telegram.ReasonStale {
		t.Errorf("valid-hash stale payload: reason = %q, want stale", trust.ReasonOf(err))
	}

	values, _ := url.ParseQuery(valid)
	values.Set("hash", "00"+values.Get("hash")[2:])
	_, err = v.VerifyInitData(values.Encode())
	if trust.ReasonOf(err) != telegram.ReasonStale {
		t.Errorf("bad-hash stale payload: reason = %q, want stale", trust.ReasonOf(err))
	}
}

func TestVerify_RejectionReasons(t *testing.T) {
	v := newVerifier(t)
	fresh := now.Add(-time.Minute)

	build := func(mut func(url.Values)) string {
		values := url.Values{}
		values.Set("auth_date", strconv.FormatInt(fresh.Unix(), 10))
		values.Set("user", aliceJSON)
		mut(values)
		values.Set("hash", telegram.Sign(values, botToken))
		return values.Encode()
	}

	tests := []struct {
		name    string
		payload string
		reason  string
	}{
		{"missing hash", "auth_date=1&user=%7B%7D", telegram.ReasonMissingHash},
		{"missing auth_date", build(func(v url.Values) { v.Del("auth_date") }), telegram.ReasonMissingAuthDate},
		{"future auth_date", build(func(v url.Values) { v.Set("auth_date", strconv.FormatInt(now.Add(time.Hour).Unix(), 10)) }), telegram.ReasonStale},
		{"non-numeric auth_date", build(func(v url.Values) { v.Set("auth_date", "yesterday") }), telegram.ReasonMalformed},
		{"missing user", build(func(v url.Values) { v.Del("user") }), telegram.ReasonMissingUser},
		{"string id", build(func(v url.Values) { v.Set("user", `{"id":"42"}`) }), telegram.ReasonInvalidUser},
		{"zero id", build(func(v url.Values) { v.Set("user", `{"first_name":"x"}`) }), telegram.ReasonInvalidUser},
		{"hash prefix only", func() string {
			p := signedInitData(fresh, aliceJSON)
			values, _ := url.ParseQuery(p)
			values.Set("hash", values.Get("hash")[:32])
			return values.Encode()
		}(), telegram.ReasonHashMismatch},
		{"bad escape", "auth_date=%zz&hash=abc", telegram.ReasonMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.VerifyInitData(tt.payload)
			if trust.KindOf(err) != trust.KindInvalid {
				t.Fatalf("kind = %v, want invalid (err=%v)", trust.KindOf(err), err)
			}
			if got := trust.ReasonOf(err); got != tt.reason {
				t.Errorf("reason = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestVerify_WrongBotToken(t *testing.T) {
	other, err := telegram.New("999:other", telegram.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = other.VerifyInitData(signedInitData(now.Add(-time.Minute), aliceJSON))
	if trust.ReasonOf(err) != telegram.ReasonHashMismatch {
		t.Errorf("reason = %q, want hash_mismatch", trust.ReasonOf(err))
	}
}

func TestVerify_EmptyInitDataIsMalformed(t *testing.T) {
	v := newVerifier(t)
	_, err := v.Verify(context.Background(), identity.Assertion{})
	if trust.KindOf(err) != trust.KindMalformed {
		t.Errorf("kind = %v, want malformed", trust.KindOf(err))
	}
}

func TestNew_MissingBotToken(t *testing.T) {
	if _, err := telegram.New(""); trust.KindOf(err) != trust.KindConfiguration {
		t.Errorf("expected configuration error, got %v", err)
	}
}
