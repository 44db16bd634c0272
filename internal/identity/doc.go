// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package identity provides the stable client identifier sent with every
// workflow request as the "user" field.
package identity
