// Package anyrlcontrib provides experimental and contributed
// additions to the anyrl Reinforcement Learning framework.
//
// The sub-packages implement training algorithms which the
// main framework does not ship: quantile-regression DQN
// (anyqrdqn), truncated quantile critics (anytqc), augmented
// random search (anyars), trust region policy optimization
// (anytrpo), and recurrent PPO with LSTM or GRU policies
// (anyrec).
//
// The root package contains the glue those algorithms share:
// environment wrappers, a replay buffer, a continuous action
// space, and generic checkpointing built around named
// parameter objects.
package anyrlcontrib
