// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package rollout selects between a baseline and a candidate skill variant and
fades the candidate in through canary stages.

A running ABTestConfig routes a call to the candidate with probability equal
to its rollout fraction. A rollout of 0 always selects the baseline and a
rollout of 1 always selects the candidate. Without a running test the
requested skill itself is selected.

Evaluate compares the recorded performance of both variants. A candidate whose
error rate or p95 latency degrades beyond the configured limits completes the
test with the baseline as winner. Otherwise the rollout advances to the next
stage (0.1, 0.5, 1.0 by default) and, once at full traffic, the candidate wins.
*/
package rollout
