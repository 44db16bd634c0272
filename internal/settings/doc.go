// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package settings holds the workflow endpoint and API credential for the
// current login session.
//
// A Store is constructed explicitly and handed to whatever needs it; there
// is no package-level instance. A Watcher reloads the Store when another
// process rewrites the session file.
package settings
