package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_LoginLogout(t *testing.T) {
	store := NewStore()

	initial := store.Snapshot()
	assert.False(t, initial.IsLoggedIn)
	assert.Nil(t, initial.UserInfo)

	loginTime := time.Unix(1_700_000_000, 0)
	store.SetAuthenticated(AuthenticatedUserInfo("VALID1", 32503680000, loginTime))

	snap := store.Snapshot()
	assert.True(t, snap.IsLoggedIn)
	assert.Equal(t, "VALID1", snap.UserInfo[KeyPassword])
	assert.Equal(t, int64(32503680000), snap.UserInfo[KeyExpirationTimestamp])
	assert.Equal(t, int64(1_700_000_000), snap.UserInfo[KeyLoginTime])

	assert.True(t, store.Logout())
	snap = store.Snapshot()
	assert.False(t, snap.IsLoggedIn)
	assert.Nil(t, snap.UserInfo)
	assert.Nil(t, store.Monitor())

	assert.False(t, store.Logout(), "second logout reports nothing to clear")
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	store := NewStore()
	info := map[string]any{"password": "k"}
	store.SetAuthenticated(info)

	info["password"] = "changed"
	snap := store.Snapshot()
	snap.UserInfo["password"] = "mutated"

	assert.Equal(t, "k", store.Snapshot().UserInfo["password"])
}

func TestStore_MonitorHandle(t *testing.T) {
	store := NewStore()
	first := newHandle(time.Now())
	second := newHandle(time.Now())

	require.True(t, store.AttachMonitor(first))
	assert.False(t, store.AttachMonitor(second))
	assert.Same(t, first, store.Monitor())
	assert.Equal(t, first.ID(), store.Snapshot().MonitorID)

	store.Detach(second)
	assert.Same(t, first, store.Monitor(), "detaching a foreign handle is a no-op")

	old := store.ReplaceMonitor(second)
	assert.Same(t, first, old)
	assert.Same(t, second, store.Monitor())

	store.Detach(second)
	assert.Nil(t, store.Monitor())
}

func TestStore_LogoutSignalsMonitor(t *testing.T) {
	store := NewStore()
	h := newHandle(time.Now())
	store.SetAuthenticated(map[string]any{"password": "k"})
	require.True(t, store.AttachMonitor(h))

	store.Logout()

	select {
	case <-h.stop:
	default:
		t.Fatal("logout did not signal the monitor")
	}
	assert.Nil(t, store.Monitor())
}

func TestStore_SetStatusKeepsMonitor(t *testing.T) {
	store := NewStore()
	h := newHandle(time.Now())
	require.True(t, store.AttachMonitor(h))

	store.SetStatus(false, nil)

	assert.False(t, store.IsLoggedIn())
	assert.Same(t, h, store.Monitor())
	assert.Empty(t, h.stop)
}

func TestStore_RecordVerification(t *testing.T) {
	store := NewStore()
	h := newHandle(time.Now())
	other := newHandle(time.Now())
	at := time.Unix(1_700_000_100, 0)

	assert.False(t, store.RecordVerification(h, 10, at), "not logged in")

	store.SetAuthenticated(AuthenticatedUserInfo("k", 5, time.Unix(1, 0)))
	require.True(t, store.AttachMonitor(h))

	assert.False(t, store.RecordVerification(other, 10, at), "not the attached monitor")
	require.True(t, store.RecordVerification(h, 10, at))

	info := store.Snapshot().UserInfo
	assert.Equal(t, int64(10), info[KeyExpirationTimestamp])
	assert.Equal(t, at.Unix(), info[KeyLastVerified])
	assert.Equal(t, "k", info[KeyPassword])
}

func TestStore_ConcurrentReadersDuringLogout(t *testing.T) {
	store := NewStore()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	torn := make(chan State, 1)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := store.Snapshot()
				consistent := (snap.IsLoggedIn && snap.UserInfo[KeyPassword] == "VALID1") ||
					(!snap.IsLoggedIn && snap.UserInfo == nil)
				if !consistent {
					select {
					case torn <- snap:
					default:
					}
					return
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		store.SetAuthenticated(AuthenticatedUserInfo("VALID1", 32503680000, time.Now()))
		h := newHandle(time.Now())
		store.AttachMonitor(h)
		store.Logout()
	}
	close(stop)
	wg.Wait()

	select {
	case snap := <-torn:
		t.Fatalf("observed inconsistent snapshot: %+v", snap)
	default:
	}

	final := store.Snapshot()
	assert.False(t, final.IsLoggedIn)
	assert.Nil(t, final.UserInfo)
}
