package mergecmder

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/supportdesk/pkg/merkle"
)

var _ = Describe("Merge Command", func() {
	var (
		ctx     context.Context
		tmpDir  string
		srcPath string
		dstPath string
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		tmpDir, err = os.MkdirTemp("", "supportdesk-merge-test-*")
		Expect(err).NotTo(HaveOccurred())
		srcPath = filepath.Join(tmpDir, "source.db")
		dstPath = filepath.Join(tmpDir, "target.db")
		// Keep the user's real config out of the way.
		GinkgoT().Setenv("HOME", tmpDir)
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

	seed := func(path string, nodes ...*merkle.Node) {
		s, err := merkle.NewSQLiteStorer(path)
		Expect(err).NotTo(HaveOccurred())
		for _, n := range nodes {
			_, err = s.Put(ctx, n)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(s.Close()).To(Succeed())
	}

	count := func(path string) int {
		s, err := merkle.NewSQLiteStorer(path)
		Expect(err).NotTo(HaveOccurred())
		defer s.Close()
		nodes, err := s.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		return len(nodes)
	}

	runMerge := func(args ...string) (string, error) {
		out := &bytes.Buffer{}
		cmd := NewMergeCmd()
		cmd.SetOut(out)
		cmd.SetArgs(append([]string{"--sqlite", dstPath}, args...))
		err := cmd.ExecuteContext(ctx)
		return out.String(), err
	}

	It("merges turns from source into target", func() {
		question := makeNode("user", "hello from source", nil)
		seed(srcPath, question, makeNode("assistant", "hi back", question))
		seed(dstPath, makeNode("user", "hello from target", nil))

		out, err := runMerge(srcPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("2 new, 0 already existed"))
		Expect(count(dstPath)).To(Equal(3))
	})

	It("deduplicates when merging the same source twice", func() {
		seed(srcPath, makeNode("user", "dedup test", nil))
		seed(dstPath)

		_, err := runMerge(srcPath)
		Expect(err).NotTo(HaveOccurred())

		out, err := runMerge(srcPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("0 new, 1 already existed"))
		Expect(count(dstPath)).To(Equal(1))
	})

	It("merges multiple sources", func() {
		src2Path := filepath.Join(tmpDir, "source2.db")
		seed(srcPath, makeNode("user", "from source 1", nil))
		seed(src2Path, makeNode("user", "from source 2", nil))
		seed(dstPath)

		out, err := runMerge(srcPath, src2Path)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Merged 2 new nodes from 2 sources"))
		Expect(count(dstPath)).To(Equal(2))
	})

	It("shares the common prefix of two conversations", func() {
		question := makeNode("user", "What are your business hours?", nil)
		src2Path := filepath.Join(tmpDir, "source2.db")
		seed(srcPath, question, makeNode("assistant", "9am-5pm", question))
		seed(src2Path, question, makeNode("assistant", "Monday to Friday, 9am-5pm", question))

		_, err := runMerge(srcPath, src2Path)
		Expect(err).NotTo(HaveOccurred())
		Expect(count(dstPath)).To(Equal(3))
	})

	It("requires at least one source", func() {
		_, err := runMerge()
		Expect(err).To(HaveOccurred())
	})
})
