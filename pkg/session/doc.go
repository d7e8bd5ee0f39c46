/*
Package session implements the logical connection of a peripheral
device to a corelink core.

A Session sits on top of a transport connector and keeps the device
registered across everything the transport does underneath: when
connectivity returns under a new transport session id, the session
silently repeats the device handshake and replays its recorded auto
subscriptions. Plain subscriptions made via Subscribe are not replayed
and are lost on reconnect; use AutoSubscribe for data the device must
keep seeing.

Sessions form trees. A root session is initialized with Init and owns
the transport; children are attached with InitWithParent, share the
root's transport for all remote calls and mirror the root's
connectivity. Destroying a session destroys its whole subtree.

With the watchdog enabled, a liveness probe round-trips a token
through the core every watchdog cycle. The echo arrives over the
core's server-initiated command channel; the hosting process routes it
to SetPingResponse. A confirmed round trip delays the idle keep-alive,
which otherwise pings the core after the configured idle interval.
*/
package session
