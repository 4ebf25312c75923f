package service

import "context"

type testTxRepos struct {
	resources ResourceRepositoryInterface
	chunks    ChunkRepositoryInterface
}

func (t *testTxRepos) Resources() ResourceRepositoryInterface {
	return t.resources
}

func (t *testTxRepos) Chunks() ChunkRepositoryInterface {
	return t.chunks
}

type testTxRunner struct {
	repos  TxRepositories
	called bool
}

func (t *testTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	t.called = true
	return fn(t.repos)
}
