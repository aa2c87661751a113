package backend

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
)

var log = logrus.WithField("pkg", "go-wordpress-api/server/backend")

// Backend holds the state of a fake WordPress.com: accounts, their second factors,
// social identities, outstanding nonces, bearer tokens and uploaded media.
type Backend struct {
	accounts map[int64]*account

	// social maps provider identities to the accounts they are connected to.
	social map[identity]int64

	// unconnected maps provider identities to the email they carry, for identities not connected to any account.
	unconnected map[identity]string

	nonces     map[string]nonce
	challenges map[string]string
	tokens     map[string]token
	media      map[int64]*media

	nextID int64

	authLife time.Duration

	lock sync.RWMutex
}

func New(authLife time.Duration) *Backend {
	return &Backend{
		accounts:    make(map[int64]*account),
		social:      make(map[identity]int64),
		unconnected: make(map[identity]string),
		nonces:      make(map[string]nonce),
		challenges:  make(map[string]string),
		tokens:      make(map[string]token),
		media:       make(map[int64]*media),

		nextID:   1000,
		authLife: authLife,
	}
}

func (b *Backend) SetAuthLife(authLife time.Duration) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.authLife = authLife
}

func (b *Backend) CreateUser(username, email, password string) (int64, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	for _, acc := range b.accounts {
		if acc.username == username || acc.email == email {
			return 0, fmt.Errorf("user %v already exists", username)
		}
	}

	userID := b.newID()

	b.accounts[userID] = newAccount(userID, username, email, password, b.newID())

	return userID, nil
}

func (b *Backend) RemoveUser(userID int64) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if _, ok := b.accounts[userID]; !ok {
		return fmt.Errorf("user %v does not exist", userID)
	}

	delete(b.accounts, userID)

	maps.DeleteFunc(b.social, func(_ identity, id int64) bool { return id == userID })
	maps.DeleteFunc(b.nonces, func(_ string, n nonce) bool { return n.userID == userID })
	maps.DeleteFunc(b.tokens, func(_ string, t token) bool { return t.userID == userID })
	maps.DeleteFunc(b.media, func(_ int64, m *media) bool { return m.userID == userID })

	return nil
}

// EnableTwoStep turns on second factor authentication for the user.
func (b *Backend) EnableTwoStep(userID int64, twoStep TwoStep) error {
	return b.withAcc(userID, func(acc *account) error {
		acc.twoStep = &twoStep
		return nil
	})
}

// ConnectSocial connects a social provider identity to the user's account.
func (b *Backend) ConnectSocial(userID int64, service, idToken string) error {
	return b.withAcc(userID, func(acc *account) error {
		id := identity{service: service, token: idToken}

		b.social[id] = acc.userID
		delete(b.unconnected, id)

		return nil
	})
}

// AddSocialIdentity registers a provider identity carrying the given email, not connected to any account.
func (b *Backend) AddSocialIdentity(service, idToken, email string) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.unconnected[identity{service: service, token: idToken}] = email
}

func (b *Backend) GetUser(userID int64) (User, error) {
	return withAcc(b, userID, func(acc *account) (User, error) {
		return acc.toUser(), nil
	})
}

// GetSentSMSCode returns the last code sent by SMS to the user.
func (b *Backend) GetSentSMSCode(userID int64) (string, bool) {
	code, err := withAcc(b, userID, func(acc *account) (string, error) {
		if acc.smsCode == "" {
			return "", fmt.Errorf("no code sent")
		}

		return acc.smsCode, nil
	})

	return code, err == nil
}

// newID must be called with the lock held.
func (b *Backend) newID() int64 {
	b.nextID++
	return b.nextID
}

func (b *Backend) withAcc(userID int64, fn func(acc *account) error) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	acc, ok := b.accounts[userID]
	if !ok {
		return fmt.Errorf("account not found")
	}

	return fn(acc)
}

func withAcc[T any](b *Backend, userID int64, fn func(acc *account) (T, error)) (T, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	acc, ok := b.accounts[userID]
	if !ok {
		return *new(T), fmt.Errorf("account not found")
	}

	return fn(acc)
}

// withLock runs fn with the backend locked for writing.
func withLock[T any](b *Backend, fn func() (T, error)) (T, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	return fn()
}
