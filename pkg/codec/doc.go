// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package codec reversibly encodes arbitrary target identifiers (host:port,
// raw IPs, anything with non-DNS characters) into a single DNS-legal label
// so a backend identity can ride in a subdomain.
//
// Every character outside [A-Za-z0-9_.-] is replaced by the self-delimiting
// escape ".eNNN." where NNN is the decimal codepoint, zero-padded to at
// least 3 digits. Decoding reverses the substitution. Encode returns
// already-safe strings unchanged; a safe string that contains a
// ".e<digits>." run is still rewritten by Decode, so it does not round-trip.
package codec
