// Package core contains the session domain model, the contracts the session
// engine consumes (identity provider, session store, codec) and the engine
// itself. Storage backends and transport adapters depend on this package; core
// must not depend on any concrete backend.
package core
