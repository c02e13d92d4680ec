package pushcmder

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportdesk/chat"
	"github.com/papercomputeco/supportdesk/pkg/merkle"
	"github.com/papercomputeco/supportdesk/pkg/pipeline"
	"github.com/papercomputeco/supportdesk/pkg/scrape"
	"github.com/papercomputeco/supportdesk/pkg/session"
)

var _ = Describe("Push Command", func() {
	var (
		ctx       context.Context
		tmpDir    string
		localPath string
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		tmpDir, err = os.MkdirTemp("", "supportdesk-push-test-*")
		Expect(err).NotTo(HaveOccurred())
		localPath = filepath.Join(tmpDir, "local.db")
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	makeNode := func(role, text string, parent *merkle.Node) *merkle.Node {
		return merkle.NewNode(merkle.Bucket{
			Type:    merkle.TypeMessage,
			Role:    role,
			Text:    text,
			Website: "https://acme.test",
			Model:   "test-model",
		}, parent)
	}

	startServer := func() (string, *merkle.MemoryStorer, func()) {
		logger := zap.NewNop()
		storer := merkle.NewMemoryStorer()
		registry := session.NewRegistry(session.Settings{}, session.Deps{
			Pipeline: pipeline.New(scrape.NewFetcher(scrape.Config{}, logger), logger),
			Config:   pipeline.DefaultConfig(),
			Archive:  storer,
			Logger:   logger,
		})

		srv, err := chat.New(chat.Config{Version: "test"}, registry, storer, nil, logger)
		Expect(err).NotTo(HaveOccurred())

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		go func() {
			_ = srv.RunWithListener(listener)
		}()

		addr := "http://" + listener.Addr().String()
		cleanup := func() {
			_ = srv.Close()
		}
		return addr, storer, cleanup
	}

	seed := func(nodes ...*merkle.Node) {
		local, err := merkle.NewSQLiteStorer(localPath)
		Expect(err).NotTo(HaveOccurred())
		for _, n := range nodes {
			_, err = local.Put(ctx, n)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(local.Close()).To(Succeed())
	}

	It("pushes local transcripts to a remote server", func() {
		question := makeNode("user", "What are your business hours?", nil)
		answer := makeNode("assistant", "We are open 9am-5pm.", question)
		seed(question, answer)

		addr, remote, cleanup := startServer()
		defer cleanup()

		out := &bytes.Buffer{}
		cmd := NewPushCmd()
		cmd.SetOut(out)
		cmd.SetArgs([]string{"--sqlite", localPath, addr})
		Expect(cmd.ExecuteContext(ctx)).To(Succeed())

		Expect(out.String()).To(ContainSubstring("Pushed 2 new nodes (0 already existed, 0 errors)"))

		nodes, err := remote.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(nodes).To(HaveLen(2))

		conv, err := merkle.Conversation(ctx, remote, answer.Hash)
		Expect(err).NotTo(HaveOccurred())
		Expect(conv).To(HaveLen(2))
		Expect(conv[0].Hash).To(Equal(question.Hash))
	})

	It("deduplicates on double push", func() {
		seed(makeNode("user", "dedup push test", nil))

		addr, remote, cleanup := startServer()
		defer cleanup()

		cmd1 := NewPushCmd()
		cmd1.SetOut(&bytes.Buffer{})
		cmd1.SetArgs([]string{"--sqlite", localPath, addr})
		Expect(cmd1.ExecuteContext(ctx)).To(Succeed())

		out := &bytes.Buffer{}
		cmd2 := NewPushCmd()
		cmd2.SetOut(out)
		cmd2.SetArgs([]string{"--sqlite", localPath, addr})
		Expect(cmd2.ExecuteContext(ctx)).To(Succeed())
		Expect(out.String()).To(ContainSubstring("1 already existed"))

		nodes, err := remote.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(nodes).To(HaveLen(1))
	})

	It("pushes in batches", func() {
		first := makeNode("user", "one", nil)
		second := makeNode("assistant", "two", first)
		third := makeNode("user", "three", second)
		seed(first, second, third)

		addr, remote, cleanup := startServer()
		defer cleanup()

		cmd := NewPushCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs([]string{"--sqlite", localPath, "--batch-size", "2", addr})
		Expect(cmd.ExecuteContext(ctx)).To(Succeed())

		nodes, err := remote.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(nodes).To(HaveLen(3))
	})

	It("reports an empty archive", func() {
		seed()

		out := &bytes.Buffer{}
		cmd := NewPushCmd()
		cmd.SetOut(out)
		cmd.SetArgs([]string{"--sqlite", localPath, "http://127.0.0.1:1"})
		Expect(cmd.ExecuteContext(ctx)).To(Succeed())
		Expect(out.String()).To(ContainSubstring("No local transcripts to push."))
	})

	It("fails when the server is unreachable", func() {
		seed(makeNode("user", "nobody home", nil))

		cmd := NewPushCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs([]string{"--sqlite", localPath, "http://127.0.0.1:1"})
		err := cmd.ExecuteContext(ctx)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("push failed on batch 0-0"))
	})
})
