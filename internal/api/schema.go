// Package api serves the GraphQL management interface: the sole write
// surface for operators and automated clients.
package api

// Schema is the management API's GraphQL schema.
const Schema = `
	schema {
		query: Query
		mutation: Mutation
	}

	type Query {
		indexingRule(identifier: String!, protocolNetwork: String!, merged: Boolean!): IndexingRule
		indexingRules(merged: Boolean!, protocolNetwork: String): [IndexingRule!]!
		costModel(deployment: String!): CostModel
		costModels(deployments: [String!]): [CostModel!]!
		actions(filter: ActionFilter!, orderBy: String, orderDirection: String): [Action!]!
		disputes(status: String, protocolNetwork: String): [POIDispute!]!
		allocations(filter: AllocationFilter!): [Allocation!]!
		indexerRegistration(protocolNetwork: String!): IndexerRegistration
		indexerEndpoints(protocolNetwork: String): [IndexerEndpoint!]!
		indexerDeployments: [IndexerDeployment!]!
		indexerAllocations(protocolNetwork: String!): [Allocation!]!
	}

	type Mutation {
		setIndexingRule(rule: IndexingRuleInput!): IndexingRule!
		deleteIndexingRule(identifier: String!, protocolNetwork: String!): Boolean!
		deleteIndexingRules(identifiers: [String!]!, protocolNetwork: String!): Boolean!
		setCostModel(costModel: CostModelInput!): CostModel!
		deleteCostModels(deployments: [String!]!): Int!
		queueActions(actions: [ActionInput!]!): [Action!]!
		approveActions(actionIDs: [ID!]!): [Action!]!
		cancelActions(actionIDs: [ID!]!): [Action!]!
		deleteActions(actionIDs: [ID!]!): Int!
		storeDisputes(disputes: [POIDisputeInput!]!): [POIDispute!]!
		deleteDisputes(allocationIDs: [String!]!, protocolNetwork: String!): Int!
		createAllocation(deployment: String!, amount: String!, protocolNetwork: String!): AllocationResult!
		closeAllocation(allocation: String!, poi: String, force: Boolean, protocolNetwork: String!): AllocationResult!
		reallocateAllocation(allocation: String!, poi: String, amount: String!, force: Boolean, protocolNetwork: String!): AllocationResult!
	}

	type IndexingRule {
		identifier: String!
		identifierType: String!
		protocolNetwork: String!
		allocationAmount: String
		allocationLifetime: Int
		autoRenewal: Boolean!
		parallelAllocations: Int
		maxAllocationPercentage: Float
		minSignal: String
		maxSignal: String
		minStake: String
		minAverageQueryFees: String
		custom: String
		decisionBasis: String!
		requireSupported: Boolean!
		safety: Boolean!
	}

	input IndexingRuleInput {
		identifier: String!
		identifierType: String
		protocolNetwork: String!
		allocationAmount: String
		allocationLifetime: Int
		autoRenewal: Boolean
		parallelAllocations: Int
		maxAllocationPercentage: Float
		minSignal: String
		maxSignal: String
		minStake: String
		minAverageQueryFees: String
		custom: String
		decisionBasis: String
		requireSupported: Boolean
		safety: Boolean
	}

	type CostModel {
		deployment: String!
		model: String
		variables: String
	}

	input CostModelInput {
		deployment: String!
		model: String
		variables: String
	}

	type Action {
		id: ID!
		status: String!
		type: String!
		deploymentID: String!
		allocationID: String
		amount: String
		poi: String
		force: Boolean!
		priority: Int!
		source: String!
		reason: String!
		transaction: String
		failureReason: String
		protocolNetwork: String!
	}

	input ActionInput {
		status: String
		type: String!
		deploymentID: String!
		allocationID: String
		amount: String
		poi: String
		force: Boolean
		priority: Int
		source: String!
		reason: String!
		protocolNetwork: String!
	}

	input ActionFilter {
		id: ID
		status: String
		type: String
		deploymentID: String
		allocationID: String
		amount: String
		poi: String
		force: Boolean
		priority: Int
		source: String
		reason: String
		transaction: String
		failureReason: String
		protocolNetwork: String
		createdSinceSeconds: Int
		updatedSinceSeconds: Int
	}

	type POIDispute {
		allocationID: String!
		subgraphDeploymentID: String!
		allocationIndexer: String!
		allocationAmount: String!
		allocationProof: String!
		closedEpoch: Int!
		closedEpochStartBlockHash: String!
		closedEpochReferenceProof: String
		previousEpochStartBlockHash: String!
		previousEpochReferenceProof: String
		status: String!
		protocolNetwork: String!
	}

	input POIDisputeInput {
		allocationID: String!
		subgraphDeploymentID: String!
		allocationIndexer: String!
		allocationAmount: String!
		allocationProof: String!
		closedEpoch: Int!
		closedEpochStartBlockHash: String!
		closedEpochReferenceProof: String
		previousEpochStartBlockHash: String!
		previousEpochReferenceProof: String
		status: String!
		protocolNetwork: String!
	}

	type Allocation {
		id: String!
		status: String!
		subgraphDeployment: String!
		indexer: String!
		allocatedTokens: String!
		createdAtEpoch: Int!
		closedAtEpoch: Int
	}

	input AllocationFilter {
		status: String
		deployment: String
		protocolNetwork: String!
	}

	type AllocationResult {
		actionID: ID!
		status: String!
		allocation: String
		deployment: String!
		failureReason: String
		transaction: String
	}

	type IndexerRegistration {
		address: String!
		protocolNetwork: String!
		registered: Boolean!
	}

	type IndexerEndpoint {
		name: String!
		url: String!
		protocolNetwork: String!
	}

	type IndexerDeployment {
		subgraphDeployment: String!
		node: String!
		paused: Boolean!
		synced: Boolean!
		health: String!
	}
`
