package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bip47-showcase/auth47/adapters/store"
	"github.com/bip47-showcase/auth47/adapters/tokenizer"
	"github.com/bip47-showcase/auth47/bsm"
	"github.com/bip47-showcase/auth47/core"
	"github.com/bip47-showcase/auth47/names"
	"github.com/bip47-showcase/auth47/observability"
	"github.com/bip47-showcase/auth47/protocol"
)

const testCallback = "https://auth.example.com/api/auth/authenticate"

type recordingPublisher struct {
	mu     sync.Mutex
	logins []string
	err    error
}

func (p *recordingPublisher) PublishLogin(ctx context.Context, identity, nonce string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logins = append(p.logins, identity+"/"+nonce)
	return p.err
}

type memoryDirectory struct {
	mu    sync.Mutex
	users map[string]string
	err   error
}

func (d *memoryDirectory) Remember(ctx context.Context, identity, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.users[identity] = username
	return nil
}

func (d *memoryDirectory) Lookup(ctx context.Context, identity string) (*core.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name, ok := d.users[identity]
	if !ok {
		return nil, errors.New("not found")
	}
	return &core.User{PublicKey: identity, Username: name}, nil
}

type fixture struct {
	svc     *AuthService
	store   *store.MemoryStore
	clock   *clock.Mock
	key     *btcec.PrivateKey
	pub     *recordingPublisher
	users   *memoryDirectory
	metrics *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))

	challenges := store.NewMemoryStore(store.Options{Clock: mock})
	tok, err := tokenizer.NewJWTTokenizer("test-secret", core.DefaultSessionTTL, tokenizer.WithClock(mock))
	require.NoError(t, err)

	key, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x42}, 32))
	f := &fixture{
		store:   challenges,
		clock:   mock,
		key:     key,
		pub:     &recordingPublisher{},
		users:   &memoryDirectory{users: make(map[string]string)},
		metrics: observability.NewMetrics(),
	}
	f.svc = NewAuthService(tok, challenges, bsm.NewVerifier(), f.pub,
		WithCallbackURL(testCallback),
		WithClock(mock),
		WithMetrics(f.metrics),
		WithUserDirectory(f.users),
	)
	return f
}

func (f *fixture) identity() string {
	return hex.EncodeToString(f.key.PubKey().SerializeCompressed())
}

func (f *fixture) proof(t *testing.T, uri string) core.Proof {
	t.Helper()
	sig, err := bsm.Sign(uri, f.key, true)
	require.NoError(t, err)
	return core.Proof{
		Response:  protocol.Version,
		Challenge: uri,
		Nym:       f.identity(),
		Signature: sig,
	}
}

func (f *fixture) issue(t *testing.T) *IssuedChallenge {
	t.Helper()
	ch, err := f.svc.CreateChallenge(context.Background())
	require.NoError(t, err)
	return ch
}

func TestCreateChallenge(t *testing.T) {
	f := newFixture(t)

	ch := f.issue(t)
	assert.Equal(t, testCallback, ch.CallbackURL)
	assert.Equal(t, fmt.Sprintf("auth47://%s?c=%s&e=%d", ch.Nonce, testCallback, 1_700_000_300), ch.URI)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ChallengesIssued))

	uri, err := f.svc.ChallengeURI(context.Background(), ch.Nonce)
	require.NoError(t, err)
	assert.Equal(t, ch.URI, uri)

	_, err = f.svc.ChallengeURI(context.Background(), "00")
	assert.ErrorIs(t, err, core.ErrUnknownChallenge)
}

// Scenario A
func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch := f.issue(t)

	res, err := f.svc.Login(ctx, f.proof(t, ch.URI))
	require.NoError(t, err)
	assert.Equal(t, f.identity(), res.Session.Identity)
	assert.Equal(t, names.Username(f.identity()), res.Session.Username)

	session, err := f.svc.ValidateSession(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, f.identity(), session.Identity)

	assert.Equal(t, []string{f.identity() + "/" + ch.Nonce}, f.pub.logins)
	assert.Equal(t, names.Username(f.identity()), f.users.users[f.identity()])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Authentications.WithLabelValues(core.KindOK)))

	stored, err := f.store.Lookup(ctx, ch.Nonce)
	require.NoError(t, err)
	assert.True(t, stored.Consumed)
}

func TestAuthenticate_ReturnsIdentity(t *testing.T) {
	f := newFixture(t)
	ch := f.issue(t)

	identity, err := f.svc.Authenticate(context.Background(), f.proof(t, ch.URI))
	require.NoError(t, err)
	assert.Equal(t, f.identity(), identity)
	assert.Empty(t, f.pub.logins)
}

// Scenario B
func TestLogin_Replay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proof := f.proof(t, f.issue(t).URI)

	_, err := f.svc.Login(ctx, proof)
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, proof)
	assert.ErrorIs(t, err, core.ErrReplayedChallenge)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Authentications.WithLabelValues(core.KindReplayedChallenge)))
}

// Scenario C
func TestLogin_UnknownChallenge(t *testing.T) {
	f := newFixture(t)
	uri := fmt.Sprintf("auth47://0123456789abcdef01234567?c=%s&e=%d", testCallback, f.clock.Now().Add(time.Minute).Unix())

	_, err := f.svc.Login(context.Background(), f.proof(t, uri))
	assert.ErrorIs(t, err, core.ErrUnknownChallenge)
}

// Scenario D
func TestLogin_SignatureForAnotherMessage(t *testing.T) {
	f := newFixture(t)
	ch := f.issue(t)

	proof := f.proof(t, ch.URI)
	proof.Signature = f.proof(t, ch.URI+"x").Signature

	_, err := f.svc.Login(context.Background(), proof)
	assert.ErrorIs(t, err, core.ErrSignatureMismatch)

	// A rejected signature leaves the challenge usable.
	_, err = f.svc.Login(context.Background(), f.proof(t, ch.URI))
	assert.NoError(t, err)
}

// Scenario E
func TestLogin_Expired(t *testing.T) {
	f := newFixture(t)
	ch := f.issue(t)

	f.clock.Add(core.DefaultChallengeTTL + time.Second)

	_, err := f.svc.Login(context.Background(), f.proof(t, ch.URI))
	assert.ErrorIs(t, err, core.ErrChallengeExpired)
}

func TestLogin_ExpiredAfterSweep(t *testing.T) {
	f := newFixture(t)
	ch := f.issue(t)

	f.clock.Add(core.DefaultChallengeTTL + store.DefaultGrace + time.Second)
	require.Equal(t, 1, f.store.Sweep())

	_, err := f.svc.Login(context.Background(), f.proof(t, ch.URI))
	assert.ErrorIs(t, err, core.ErrChallengeExpired)
}

func TestLogin_AtExpiryInstant(t *testing.T) {
	f := newFixture(t)
	ch := f.issue(t)

	f.clock.Set(ch.ExpiresAt)

	_, err := f.svc.Login(context.Background(), f.proof(t, ch.URI))
	assert.NoError(t, err)
}

func TestLogin_MissingFields(t *testing.T) {
	f := newFixture(t)
	full := f.proof(t, f.issue(t).URI)

	blank := []func(p *core.Proof){
		func(p *core.Proof) { p.Response = "" },
		func(p *core.Proof) { p.Challenge = "" },
		func(p *core.Proof) { p.Nym = "" },
		func(p *core.Proof) { p.Signature = "" },
	}
	for i, blankField := range blank {
		p := full
		blankField(&p)
		_, err := f.svc.Login(context.Background(), p)
		assert.ErrorIs(t, err, core.ErrMissingFields, "field %d", i)
	}
}

func TestLogin_MalformedChallenge(t *testing.T) {
	f := newFixture(t)

	for _, uri := range []string{"hello", "auth47://", "auth47://XYZ?c=x", "https://example.com"} {
		_, err := f.svc.Login(context.Background(), f.proof(t, uri))
		assert.ErrorIs(t, err, core.ErrMalformedChallenge, uri)
	}
}

func TestLogin_ConcurrentSubmissions(t *testing.T) {
	f := newFixture(t)
	proof := f.proof(t, f.issue(t).URI)

	const workers = 16
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Login(context.Background(), proof)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, core.ErrReplayedChallenge)
	}
	assert.Equal(t, 1, wins)
}

func TestLogin_BookkeepingFailuresAreNotFatal(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")
	f.users.err = errors.New("disk full")

	res, err := f.svc.Login(context.Background(), f.proof(t, f.issue(t).URI))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
}

func TestValidateSession_Invalid(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ValidateSession(context.Background(), "garbage")
	assert.ErrorIs(t, err, core.ErrCredentialInvalid)
}
