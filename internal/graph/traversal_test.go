package graph

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// buildTopology wires a small realistic cluster shape:
//
//	pod-1 --ownedBy--> rs --ownedBy--> deploy
//	svc --routes--> pod-1
//	worker --hosts--> pod-1
func buildTopology(g *Graph) (pod, rs, deploy, svc, worker string) {
	deploy = g.AddResource("deployment", "default", "api", nil, nil)
	rs = g.AddResource("replicaset", "default", "api-abc", nil, nil)
	pod = g.AddResource("pod", "default", "api-abc-1", nil, map[string]string{"app": "api"})
	svc = g.AddResource("service", "default", "api", nil, nil)
	worker = g.AddResource("node", "", "worker-1", nil, nil)

	g.AddRelation(pod, rs, RelationOwnedBy, nil)
	g.AddRelation(rs, deploy, RelationOwnedBy, nil)
	g.AddRelation(svc, pod, RelationRoutes, nil)
	g.AddRelation(worker, pod, RelationHosts, nil)
	return
}

var _ = Describe("GetRelated", func() {
	var g *Graph
	var pod string

	BeforeEach(func() {
		g = New(Options{})
		pod, _, _, _, _ = buildTopology(g)
	})

	It("returns both directions tagged with depth and relation", func() {
		items := g.GetRelated(pod, 1, nil)
		Expect(items).To(HaveLen(3))

		byID := map[string]RelatedItem{}
		for _, item := range items {
			byID[item.Node.ID] = item
		}
		Expect(byID["replicaset/default/api-abc"].Direction).To(Equal(DirectionOutgoing))
		Expect(byID["replicaset/default/api-abc"].Relation).To(Equal(RelationOwnedBy))
		Expect(byID["service/default/api"].Direction).To(Equal(DirectionIncoming))
		Expect(byID["node/worker-1"].Relation).To(Equal(RelationHosts))
		for _, item := range items {
			Expect(item.Depth).To(Equal(1))
		}
	})

	It("never returns an item deeper than maxDepth", func() {
		for depth := 1; depth <= 3; depth++ {
			for _, item := range g.GetRelated(pod, depth, nil) {
				Expect(item.Depth).To(BeNumerically("<=", depth))
			}
		}
	})

	It("grows monotonically with depth", func() {
		shallow := g.GetRelated(pod, 1, nil)
		deep := g.GetRelated(pod, 2, nil)
		Expect(len(deep)).To(BeNumerically(">=", len(shallow)))

		deepIDs := map[string]bool{}
		for _, item := range deep {
			deepIDs[item.Node.ID+string(item.Direction)] = true
		}
		for _, item := range shallow {
			Expect(deepIDs).To(HaveKey(item.Node.ID + string(item.Direction)))
		}
	})

	It("honors the relation filter", func() {
		items := g.GetRelated(pod, 2, []string{RelationRoutes})
		Expect(items).To(HaveLen(1))
		Expect(items[0].Node.ID).To(Equal("service/default/api"))
	})

	It("returns nothing for an unknown id", func() {
		Expect(g.GetRelated("pod/default/ghost", 3, nil)).To(BeEmpty())
	})
})

var _ = Describe("Downstream", func() {
	var g *Graph

	BeforeEach(func() {
		g = New(Options{})
	})

	It("keeps the relation on every hop", func() {
		pod, rs, deploy, _, _ := buildTopology(g)

		items := g.Downstream(pod, 3, nil)
		Expect(items).To(HaveLen(2))
		Expect(items[0].Node.ID).To(Equal(rs))
		Expect(items[0].Relation).To(Equal(RelationOwnedBy))
		Expect(items[0].Depth).To(Equal(1))
		Expect(items[1].Node.ID).To(Equal(deploy))
		Expect(items[1].Depth).To(Equal(2))
	})

	It("never crosses an edge against its direction", func() {
		pod, _, _, svc, worker := buildTopology(g)
		sibling := g.AddResource("pod", "default", "api-abc-2", nil, nil)
		g.AddRelation(svc, sibling, RelationRoutes, nil)

		for _, item := range g.Downstream(pod, 5, nil) {
			Expect(item.Node.ID).NotTo(Equal(sibling))
			Expect(item.Node.ID).NotTo(Equal(svc))
			Expect(item.Node.ID).NotTo(Equal(worker))
			Expect(item.Direction).To(Equal(DirectionOutgoing))
		}
	})

	It("honors the relation filter", func() {
		pod, rs, _, _, _ := buildTopology(g)

		items := g.Downstream(pod, 3, []string{RelationOwnedBy})
		Expect(len(items)).To(BeNumerically(">=", 1))
		Expect(items[0].Node.ID).To(Equal(rs))
	})

	It("returns nothing for an unknown id", func() {
		Expect(g.Downstream("pod/default/ghost", 3, nil)).To(BeEmpty())
	})
})

var _ = Describe("directional traversals", func() {
	var g *Graph

	BeforeEach(func() {
		g = New(Options{})
	})

	It("mirror law: impact at level 1 matches dependency trace of the target", func() {
		a := g.AddResource("service", "default", "a", nil, nil)
		x := g.AddResource("pod", "default", "x", nil, nil)
		Expect(g.AddRelation(a, x, RelationRoutes, nil)).To(BeTrue())

		impact := g.AnalyzeImpactScope(a, 1)
		Expect(impact).To(HaveLen(1))
		Expect(impact[0].Level).To(Equal(1))
		Expect(impact[0].Nodes).To(HaveLen(1))
		Expect(impact[0].Nodes[0].ID).To(Equal(x))

		trace := g.TraceDependencyChain(x, 1)
		Expect(trace).To(HaveLen(1))
		Expect(trace[0].Nodes[0].ID).To(Equal(a))
	})

	It("groups impact by level following outgoing edges only", func() {
		pod, rs, deploy, _, worker := buildTopology(g)

		impact := g.AnalyzeImpactScope(pod, 5)
		Expect(impact).To(HaveLen(2))
		Expect(impact[0].Nodes[0].ID).To(Equal(rs))
		Expect(impact[1].Nodes[0].ID).To(Equal(deploy))

		// The hosting node points at the pod, not the other way round.
		for _, group := range impact {
			for _, node := range group.Nodes {
				Expect(node.ID).NotTo(Equal(worker))
			}
		}
	})

	It("survives cycles without looping", func() {
		a := g.AddResource("service", "default", "a", nil, nil)
		b := g.AddResource("service", "default", "b", nil, nil)
		g.AddRelation(a, b, RelationDependsOn, nil)
		g.AddRelation(b, a, RelationDependsOn, nil)

		impact := g.AnalyzeImpactScope(a, 10)
		Expect(impact).To(HaveLen(1))
		Expect(impact[0].Nodes).To(HaveLen(1))
	})
})

var _ = Describe("ShortestPaths", func() {
	var g *Graph

	BeforeEach(func() {
		g = New(Options{})
	})

	It("finds the direct chain between deployment and pod", func() {
		pod, rs, deploy, _, _ := buildTopology(g)

		paths := g.ShortestPaths(pod, deploy, 10, 5)
		Expect(paths).To(HaveLen(1))
		Expect(paths[0]).To(HaveLen(2))
		Expect(paths[0][0].TargetID).To(Equal(rs))
		Expect(paths[0][1].TargetID).To(Equal(deploy))
	})

	It("crosses edges against their direction when needed", func() {
		_, _, _, svc, worker := buildTopology(g)

		// worker --hosts--> pod <--routes-- svc
		paths := g.ShortestPaths(worker, svc, 10, 5)
		Expect(paths).To(HaveLen(1))
		Expect(paths[0]).To(HaveLen(2))
	})

	It("returns nothing for disconnected nodes", func() {
		a := g.AddResource("pod", "default", "a", nil, nil)
		b := g.AddResource("pod", "other", "b", nil, nil)
		Expect(g.ShortestPaths(a, b, 10, 5)).To(BeEmpty())
	})

	It("caps the number of returned paths", func() {
		a := g.AddResource("service", "default", "a", nil, nil)
		z := g.AddResource("service", "default", "z", nil, nil)
		for i := 0; i < 8; i++ {
			mid := g.AddResource("pod", "default", "mid-"+string(rune('a'+i)), nil, nil)
			g.AddRelation(a, mid, RelationRoutes, nil)
			g.AddRelation(mid, z, RelationDependsOn, nil)
		}
		paths := g.ShortestPaths(a, z, 10, 5)
		Expect(paths).To(HaveLen(5))
	})
})
