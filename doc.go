// The [firebasil] package is a client for the Firebase Realtime Database
// REST and streaming protocol.
//
// # Connecting
//
// [New] takes the database endpoint URL, e.g. "https://my-project.firebaseio.com",
// and options for credentials, logging and tuning. When the emulator suite
// is running, [EmulatorEndpoint] yields the local endpoint from the
// FIREBASE_DATABASE_EMULATOR_HOST environment variable.
//
// # References and queries
//
// [Rtdb.Ref] addresses a node by path. Refs are immutable; [Ref.Child] and
// the query methods ([Ref.OrderByChild], [Ref.LimitToFirst], [Ref.StartAt]
// and friends) each return a new Ref. Query constraints are validated
// before any request, so conflicting constraints surface as an
// [InvalidQueryError] instead of a server error.
//
// # One-shot operations
//
// [Ref.Get], [Ref.Set], [Ref.Update], [Ref.Delete] and [Ref.Push] map to
// the REST verbs. Values are represented by the [github.com/k2bd/firebasil.go/pkg/tree] package's
// ordered, immutable trees.
//
// # Live replicas
//
// [Rtdb.Subscribe] opens a replica session: a streaming connection whose
// put and patch deltas maintain an in-memory copy of the subscribed
// subtree, republished as [Event] values in server order. [Session.Snapshot]
// reads the replica without touching the network and says whether it is
// possibly stale.
//
// A session reopens a dropped connection once on its own; for unattended
// use, [Rtdb.Listen] wraps sessions in a [Listener] that retries with
// exponential backoff and carries the replica across sessions.
//
// # Authentication
//
// Credentials come from a [github.com/k2bd/firebasil.go/pkg/auth.TokenSource]: a fixed token via
// [github.com/k2bd/firebasil.go/pkg/auth.Static], or automatic ID-token refresh via
// [github.com/k2bd/firebasil.go/pkg/auth.NewRefreshingSource]. Sessions refresh the token in place when
// the server reports it revoked.
package firebasil
