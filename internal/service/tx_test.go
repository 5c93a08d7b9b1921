package service

import "context"

type testTxRepos struct {
	documents     DocumentRepositoryInterface
	chunks        ChunkRepositoryInterface
	ingestionJobs IngestionJobRepositoryInterface
}

func (t *testTxRepos) Documents() DocumentRepositoryInterface {
	return t.documents
}

func (t *testTxRepos) Chunks() ChunkRepositoryInterface {
	return t.chunks
}

func (t *testTxRepos) IngestionJobs() IngestionJobRepositoryInterface {
	return t.ingestionJobs
}

type testTxRunner struct {
	repos  TxRepositories
	called int
}

func (t *testTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	t.called++
	return fn(t.repos)
}
